package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/types"
)

// This package is for serving the hardware wallet client over HTTP.
// The protocol logic is in the hwclient package; here we only convert
// the requests and format the replies. Device replies are not returned
// by the calls, they are streamed on /events.

const (
	eventQueue = 64
	writeWait  = 5 * time.Second
)

var errUnsupportedDepth = errors.New("only master, purpose, coin type and account paths are supported")

type api struct {
	client   *hwclient.Client
	version  string
	logger   *logs.Logger
	upgrader websocket.Upgrader
}

type versionInfo struct {
	Version string `json:"version"`
}

type attachInfo struct {
	Attached bool `json:"attached"`
	hwclient.Status
}

type publicKeyRequest struct {
	Path string `json:"path"`
}

type pinRequest struct {
	Pin string `json:"pin"`
}

type resetRequest struct {
	Label                string `json:"label"`
	Language             string `json:"language"`
	Strength             uint32 `json:"strength"`
	PinProtection        *bool  `json:"pinProtection"`
	PassphraseProtection bool   `json:"passphraseProtection"`
	DisplayRandom        bool   `json:"displayRandom"`
}

type entropyRequest struct {
	Entropy string `json:"entropy"` // hex
}

type wordRequest struct {
	Word string `json:"word"`
}

type cipherRequest struct {
	KeyIndex     uint32              `json:"keyIndex"`
	KeyPurpose   hwclient.KeyPurpose `json:"keyPurpose"`
	SubIndex     uint32              `json:"subIndex"`
	KeyLabel     *string             `json:"keyLabel"`
	KeyValue     *string             `json:"keyValue"` // hex
	Encrypt      bool                `json:"encrypt"`
	AskOnEncrypt bool                `json:"askOnEncrypt"`
	AskOnDecrypt bool                `json:"askOnDecrypt"`
}

func ServeAPI(r *mux.Router, c *hwclient.Client, v string, l *logs.Logger) {
	api := &api{
		client:  c,
		version: v,
		logger:  l,
	}
	corsv := corsValidator()
	api.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return corsv(r.Header.Get(corsOriginHeader))
		},
	}

	post := func(path string, h http.HandlerFunc) {
		r.Methods("POST", "OPTIONS").Path(path).HandlerFunc(h)
	}
	post("/", api.Info)
	post("/enumerate", api.Enumerate)
	post("/attach", api.Attach)
	post("/connect", api.Connect)
	post("/disconnect", api.Disconnect)
	post("/initialise", api.Initialise)
	post("/publickey", api.PublicKey)
	post("/pin", api.Pin)
	post("/button", api.Button)
	post("/wipe", api.Wipe)
	post("/reset", api.Reset)
	post("/entropy", api.Entropy)
	post("/word", api.Word)
	post("/cipher", api.Cipher)
	post("/abandon", api.Abandon)
	r.Methods("GET").Path("/events").HandlerFunc(api.Events)
	r.Use(CORS(corsv))
}

func (a *api) Info(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("version " + a.version)

	err := json.NewEncoder(w).Encode(versionInfo{
		Version: a.version,
	})
	a.checkJSONError(w, err)
}

func (a *api) Enumerate(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("start")
	e, err := a.client.Enumerate()
	if err != nil {
		a.respondError(w, err)
		return
	}
	if e == nil {
		e = []types.DeviceInfo{}
	}
	a.logger.Log("encoding and exiting")
	err = json.NewEncoder(w).Encode(e)
	a.checkJSONError(w, err)
}

func (a *api) Attach(w http.ResponseWriter, r *http.Request) {
	attached := a.client.Attach()
	a.logger.Logf("attached %t", attached)
	err := json.NewEncoder(w).Encode(attachInfo{
		Attached: attached,
		Status:   a.client.Status(),
	})
	a.checkJSONError(w, err)
}

func (a *api) Connect(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.client.Connect())
}

func (a *api) Disconnect(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.client.Disconnect())
}

func (a *api) Initialise(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.client.Initialise(r.Context()))
}

func (a *api) PublicKey(w http.ResponseWriter, r *http.Request) {
	var req publicKeyRequest
	if !a.decode(w, r, &req) {
		return
	}
	path, err := parsePath(req.Path)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respond(w, a.client.GetDeterministicHierarchy(r.Context(), path))
}

func (a *api) Pin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, a.client.PinMatrixAck(r.Context(), req.Pin))
}

func (a *api) Button(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.client.ButtonAck(r.Context()))
}

func (a *api) Wipe(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.client.WipeDevice(r.Context()))
}

func (a *api) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !a.decode(w, r, &req) {
		return
	}
	opts := hwclient.DefaultResetOptions(req.Label)
	if req.Language != "" {
		opts.Language = req.Language
	}
	if req.Strength != 0 {
		opts.Strength = req.Strength
	}
	if req.PinProtection != nil {
		opts.PinProtection = *req.PinProtection
	}
	opts.PassphraseProtection = req.PassphraseProtection
	opts.DisplayRandom = req.DisplayRandom
	a.respond(w, a.client.ResetDevice(r.Context(), opts))
}

func (a *api) Entropy(w http.ResponseWriter, r *http.Request) {
	var req entropyRequest
	if !a.decode(w, r, &req) {
		return
	}
	entropy, err := hex.DecodeString(req.Entropy)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respond(w, a.client.EntropyAck(r.Context(), entropy))
}

func (a *api) Word(w http.ResponseWriter, r *http.Request) {
	var req wordRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, a.client.WordAck(r.Context(), req.Word))
}

func (a *api) Cipher(w http.ResponseWriter, r *http.Request) {
	var req cipherRequest
	if !a.decode(w, r, &req) {
		return
	}
	ckr := hwclient.CipherKeyRequest{
		KeyIndex:     req.KeyIndex,
		KeyPurpose:   req.KeyPurpose,
		SubIndex:     req.SubIndex,
		Encrypt:      req.Encrypt,
		AskOnEncrypt: req.AskOnEncrypt,
		AskOnDecrypt: req.AskOnDecrypt,
	}
	if req.KeyLabel != nil {
		ckr.KeyLabel = []byte(*req.KeyLabel)
	}
	if req.KeyValue != nil {
		value, err := hex.DecodeString(*req.KeyValue)
		if err != nil {
			a.respondError(w, err)
			return
		}
		ckr.KeyValue = append([]byte{}, value...)
	}
	a.respond(w, a.client.CipherKeyValue(r.Context(), ckr))
}

func (a *api) Abandon(w http.ResponseWriter, r *http.Request) {
	a.client.Abandon()
	a.respond(w, nil)
}

// Events streams every published event as a JSON text message until the
// peer goes away or the subscription ends.
func (a *api) Events(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("start")
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		a.logger.Log("upgrade err " + err.Error())
		return
	}
	defer func() {
		errClose := conn.Close()
		if errClose != nil {
			a.logger.Log("Error on websocket close: " + errClose.Error())
		}
	}()

	ch := make(chan types.MessageEvent, eventQueue)
	sub := a.client.Subscribe(ch)
	defer sub.Unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := a.writeEvent(conn, ev); err != nil {
				a.logger.Log("write err " + err.Error())
				return
			}
		case err := <-sub.Err():
			for drained := false; !drained; {
				select {
				case ev := <-ch:
					if a.writeEvent(conn, ev) != nil {
						return
					}
				default:
					drained = true
				}
			}
			code, text := websocket.CloseNormalClosure, ""
			if err != nil {
				code, text = websocket.CloseTryAgainLater, err.Error()
			}
			a.logger.Logf("subscription ended %q", text)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			return
		case <-gone:
			a.logger.Log("peer left")
			return
		}
	}
}

func (a *api) writeEvent(conn *websocket.Conn, ev types.MessageEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// parsePath reads an absolute derivation path. Paths below the account
// level are refused here, before they reach the client.
func parsePath(s string) (accounts.DerivationPath, error) {
	s = strings.TrimSpace(s)
	if s == "m" || s == "m/" {
		return accounts.DerivationPath{}, nil
	}
	if !strings.HasPrefix(s, "m/") {
		return nil, fmt.Errorf("path %q is not absolute", s)
	}
	path, err := accounts.ParseDerivationPath(s)
	if err != nil {
		return nil, err
	}
	if len(path) > int(hwclient.LevelAccount) {
		return nil, errUnsupportedDepth
	}
	return path, nil
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer func() {
		errClose := r.Body.Close()
		if errClose != nil {
			// just log
			a.logger.Log("Error on request close: " + errClose.Error())
		}
	}()
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		a.respondError(w, err)
		return false
	}
	return true
}

// respond replies with the client status, or with err.
func (a *api) respond(w http.ResponseWriter, err error) {
	if err != nil {
		a.respondError(w, err)
		return
	}
	err = json.NewEncoder(w).Encode(a.client.Status())
	a.checkJSONError(w, err)
}

func (a *api) checkJSONError(w http.ResponseWriter, err error) {
	if err != nil {
		a.respondError(w, err)
	}
}

func (a *api) respondError(w http.ResponseWriter, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	a.logger.Log("Returning error: " + err.Error())
	w.WriteHeader(http.StatusBadRequest)

	// if even the encoder of the error errors, just log the error
	err = json.NewEncoder(w).Encode(jsonError{
		Error: err.Error(),
	})
	if err != nil {
		a.logger.Log("Error while writing error: " + err.Error())
	}
}
