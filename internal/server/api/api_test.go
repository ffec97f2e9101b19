package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/simulator"
	"github.com/mbhd/hwclient-go/types"
)

// Test the origin validation
func TestOriginValidator(t *testing.T) {
	testcases := []struct {
		origin string
		allow  bool
	}{
		// no Origin means no browser
		{"", true},
		// `null` should be denied
		{"null", false},
		{"http://localhost", true},
		{"http://localhost:8000", true},
		{"https://localhost:5000", true},
		{"http://127.0.0.1:21335", true},
		{"http://[::1]:3000", true},
		// Fakes should be denied
		{"http://localhost.evil.com", false},
		{"http://evil.com/localhost:8000", false},
		{"http://127.0.0.1.nip.io", false},
		{"ftp://localhost:21", false},
		{"https://example.com", false},
	}
	validator := corsValidator()
	for _, tc := range testcases {
		allow := validator(tc.origin)
		if allow != tc.allow {
			t.Errorf("Origin %q: expected %v, got %v", tc.origin, tc.allow, allow)
		}
	}
}

type testServer struct {
	t      *testing.T
	url    string
	device *simulator.Device
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dev := simulator.New(simulator.Initialised)
	c, err := hwclient.New(hwclient.WithBus(simulator.NewBus(dev)))
	require.NoError(t, err)

	r := mux.NewRouter()
	ServeAPI(r, c, "test", logs.New(nil))
	s := httptest.NewServer(r)
	t.Cleanup(func() {
		s.Close()
		c.Close()
	})
	return &testServer{t: t, url: s.URL, device: dev}
}

func (s *testServer) post(path, body string, headers ...string) (*http.Response, map[string]interface{}) {
	s.t.Helper()
	req, err := http.NewRequest("POST", s.url+path, strings.NewReader(body))
	require.NoError(s.t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusForbidden {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (s *testServer) connect() {
	s.t.Helper()
	resp, out := s.post("/attach", "")
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	require.Equal(s.t, true, out["attached"])
	resp, _ = s.post("/connect", "")
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)
	resp, out := s.post("/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", out["version"])
}

func TestUnlockOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.connect()

	resp, out := s.post("/initialise", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unlock", out["flow"])

	resp, out = s.post("/cipher", `{"keyLabel":"MultiBit HD     Unlock","keyValue":"30313233343536373839616263646566","encrypt":true,"askOnEncrypt":true,"askOnDecrypt":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["cipherPending"])

	resp, out = s.post("/pin", `{"pin":"`+simulator.IncorrectPin+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["pinRejected"])

	resp, out = s.post("/pin", `{"pin":"`+simulator.DefaultPin+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["pinAccepted"])

	resp, out = s.post("/button", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["cipherPending"])
}

func TestPublicKeyDepthRejected(t *testing.T) {
	s := newTestServer(t)
	s.connect()

	resp, out := s.post("/publickey", `{"path":"m/44'/0'/0'/0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errUnsupportedDepth.Error(), out["error"])
	assert.NotContains(t, s.device.Requests(), types.MessageTypeGetPublicKey)

	resp, _ = s.post("/publickey", `{"path":"m/44'/0'"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, s.device.Requests(), types.MessageTypeGetPublicKey)
}

func TestParsePath(t *testing.T) {
	testcases := []struct {
		in    string
		depth int
		fails bool
	}{
		{"m", 0, false},
		{"m/44'", 1, false},
		{"m/44'/0'", 2, false},
		{"m/44'/0'/3'", 3, false},
		{"m/44'/0'/3'/0", 0, true},
		{"44'/0'", 0, true},
		{"m/x", 0, true},
	}
	for _, tc := range testcases {
		path, err := parsePath(tc.in)
		if tc.fails {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Len(t, path, tc.depth, tc.in)
	}
}

func TestCipherNilPayloadRejected(t *testing.T) {
	s := newTestServer(t)
	s.connect()
	resp, out := s.post("/cipher", `{"keyValue":"00"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, hwclient.ErrNilPayload.Error(), out["error"])
}

func TestBadBody(t *testing.T) {
	s := newTestServer(t)
	resp, out := s.post("/pin", `{"pin":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])

	resp, out = s.post("/entropy", `{"entropy":"zz"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])
}

func TestNotConnected(t *testing.T) {
	s := newTestServer(t)
	resp, out := s.post("/initialise", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, hwclient.ErrNotConnected.Error(), out["error"])
}

func TestForeignOriginForbidden(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.post("/attach", "", "Origin", "https://example.com")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := s.post("/attach", "", "Origin", "http://localhost:8000")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:8000", resp.Header.Get(corsAllowOriginHeader))
	assert.Equal(t, true, out["attached"])
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest("OPTIONS", s.url+"/pin", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:8000")
	req.Header.Set(corsRequestMethodHeader, "POST")
	req.Header.Set(corsRequestHeadersHeader, "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:8000", resp.Header.Get(corsAllowOriginHeader))
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/events", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	// the subscription is made once the upgrade is done
	require.Eventually(t, func() bool {
		_, out := s.post("/abandon", "")
		return out["subscribers"] == float64(1)
	}, time.Second, 10*time.Millisecond)

	s.connect()
	resp2, _ := s.post("/initialise", "")
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	want := []string{"DEVICE_ATTACHED", "DEVICE_CONNECTED", "FEATURES"}
	for _, w := range want {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev struct {
			Type    string                 `json:"type"`
			Payload map[string]interface{} `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, w, ev.Type)
		if w == "FEATURES" {
			assert.Equal(t, true, ev.Payload["initialized"])
		}
	}
}

func TestEventStreamForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	h := http.Header{}
	h.Set("Origin", "https://example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/events", h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
