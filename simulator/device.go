// Package simulator is a scripted Trezor that speaks the real wire
// framing and messages. It plugs into the client in place of a USB bus.
package simulator

import (
	"crypto/sha256"
	"strconv"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"github.com/mbhd/hwclient-go/types"
)

const (
	Path = "simulator"

	// DefaultPin unlocks the Initialised script.
	DefaultPin = "1234"
	// IncorrectPin is rejected in every state.
	IncorrectPin = "6789"

	DefaultLabel    = "Aardvark"
	DefaultMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	deviceID = "SIMULATOR0001"
	vendor   = "bitcointrezor.com"

	confirmationSteps = 24
	wordsShown        = 12
)

// Script selects the state the simulated device starts in.
type Script int

const (
	// Initialised holds the DefaultMnemonic wallet behind DefaultPin.
	Initialised Script = iota
	// Wiped reports wiped Features to the first Initialize only, as a
	// device that gets set up before it is polled again.
	Wiped
)

type stage int

const (
	stageIdle stage = iota
	stagePinFirst
	stagePinSecond
	stageEntropy
	stageWords
)

type Device struct {
	mu sync.Mutex

	script      Script
	initialized bool
	label       string
	pin         string
	seed        []byte
	mnemonic    string
	unlocked    bool
	initCount   int

	stage         stage
	wipeConfirm   bool
	newPin        string
	strength      int
	deviceEntropy []byte
	wordStep      int

	pending     *types.CipherKeyValue
	awaitingPin bool

	frozen   bool
	requests []types.MessageType
}

func New(script Script) *Device {
	d := &Device{script: script}
	if script == Initialised {
		d.initialized = true
		d.label = DefaultLabel
		d.pin = DefaultPin
	}
	return d
}

// Freeze makes the device swallow requests without replying.
func (d *Device) Freeze(frozen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frozen = frozen
}

// Requests lists the kinds of every request received so far.
func (d *Device) Requests() []types.MessageType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.MessageType{}, d.requests...)
}

// Mnemonic returns the words of the wallet created by the last reset.
func (d *Device) Mnemonic() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mnemonic
}

// handle returns the reply to req, or nil when the device is frozen.
func (d *Device) handle(req types.Message) types.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req.Type())
	if d.frozen {
		return nil
	}

	switch m := req.(type) {
	case *types.Initialize:
		return d.initialize()
	case *types.ClearSession:
		d.abort()
		d.unlocked = false
		return &types.Success{Message: "Session cleared"}
	case *types.Cancel:
		d.abort()
		return failure(types.FailureActionCancelled, "Cancelled")
	case *types.WipeDevice:
		return d.wipe()
	case *types.ResetDevice:
		return d.reset(m)
	case *types.PinMatrixAck:
		return d.pinMatrixAck(m.Pin)
	case *types.ButtonAck:
		return d.buttonAck()
	case *types.EntropyAck:
		return d.entropyAck(m.Entropy)
	case *types.WordAck:
		return d.wordAck()
	case *types.GetPublicKey:
		return d.getPublicKey(m)
	case *types.CipherKeyValue:
		return d.cipherKeyValue(m)
	}
	return unexpected()
}

func (d *Device) abort() {
	d.stage = stageIdle
	d.wipeConfirm = false
	d.pending = nil
	d.awaitingPin = false
}

func (d *Device) initialize() types.Message {
	d.abort()
	d.initCount++
	f := &types.Features{
		Vendor:        vendor,
		MajorVersion:  1,
		MinorVersion:  3,
		PatchVersion:  3,
		DeviceID:      deviceID,
		PinProtection: d.pin != "",
		Language:      "english",
		Label:         d.label,
		Initialized:   d.initialized,
		PinCached:     d.unlocked,
	}
	if d.script == Wiped && d.initCount == 1 && !d.initialized {
		d.initialized = true
		d.label = DefaultLabel
		d.pin = DefaultPin
	}
	return f
}

func (d *Device) wipe() types.Message {
	d.abort()
	d.initialized = false
	d.label = ""
	d.pin = ""
	d.seed = nil
	d.mnemonic = ""
	d.unlocked = false

	// a wipe is followed by setting up the new wallet
	d.wipeConfirm = true
	d.stage = stagePinFirst
	d.strength = 128
	d.deviceEntropy, _ = bip39.NewEntropy(256)
	return &types.ButtonRequest{Code: types.ButtonRequestWipeDevice}
}

func (d *Device) reset(m *types.ResetDevice) types.Message {
	if d.initialized {
		return failure(types.FailureUnexpectedMessage, "Device is already initialized. Use Wipe first.")
	}
	d.abort()
	d.label = m.Label
	switch m.Strength {
	case 0:
		d.strength = 128
	case 128, 192, 256:
		d.strength = int(m.Strength)
	default:
		return failure(types.FailureSyntaxError, "Invalid strength (has to be 128, 192 or 256 bits)")
	}
	d.deviceEntropy, _ = bip39.NewEntropy(256)
	if m.PinProtection {
		d.stage = stagePinFirst
		return &types.PinMatrixRequest{Kind: types.PinMatrixRequestNewFirst}
	}
	d.stage = stageEntropy
	return &types.EntropyRequest{}
}

func (d *Device) pinMatrixAck(pin string) types.Message {
	if pin == IncorrectPin {
		return failure(types.FailurePinInvalid, "Invalid PIN")
	}
	switch {
	case d.stage == stagePinFirst:
		d.wipeConfirm = false
		d.newPin = pin
		d.stage = stagePinSecond
		return &types.PinMatrixRequest{Kind: types.PinMatrixRequestNewSecond}
	case d.stage == stagePinSecond:
		if pin != d.newPin {
			d.abort()
			return failure(types.FailureActionCancelled, "PIN mismatch")
		}
		d.pin = pin
		d.stage = stageEntropy
		return &types.EntropyRequest{}
	case d.awaitingPin:
		// a wrong PIN keeps the protected call pending for another try
		if pin != d.pin {
			return failure(types.FailurePinInvalid, "Invalid PIN")
		}
		d.unlocked = true
		d.awaitingPin = false
		return &types.ButtonRequest{Code: types.ButtonRequestProtectCall}
	}
	return unexpected()
}

func (d *Device) buttonAck() types.Message {
	switch {
	case d.wipeConfirm:
		d.wipeConfirm = false
		return &types.PinMatrixRequest{Kind: types.PinMatrixRequestNewFirst}
	case d.pending != nil && d.unlocked:
		req := d.pending
		d.pending = nil
		return d.cipher(req)
	}
	return unexpected()
}

// entropyAck mixes host and device entropy into the new mnemonic.
func (d *Device) entropyAck(host []byte) types.Message {
	if d.stage != stageEntropy {
		return unexpected()
	}
	h := sha256.New()
	h.Write(d.deviceEntropy)
	h.Write(host)
	entropy := h.Sum(nil)[:d.strength/8]
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		d.abort()
		return failure(types.FailureFirmwareError, err.Error())
	}
	d.mnemonic = mnemonic
	d.stage = stageWords
	d.wordStep = 0
	return confirmWord(0)
}

func (d *Device) wordAck() types.Message {
	if d.stage != stageWords {
		return unexpected()
	}
	d.wordStep++
	if d.wordStep < confirmationSteps {
		return confirmWord(d.wordStep)
	}
	d.stage = stageIdle
	d.seed = bip39.NewSeed(d.mnemonic, "")
	d.initialized = true
	d.unlocked = false
	return &types.Success{Message: "Device reset"}
}

func (d *Device) master() (*extendedKey, error) {
	seed := d.seed
	if seed == nil {
		seed = bip39.NewSeed(DefaultMnemonic, "")
	}
	return newMasterKey(seed)
}

func (d *Device) getPublicKey(m *types.GetPublicKey) types.Message {
	if !d.initialized {
		return failure(types.FailureNotInitialized, "Device not initialized")
	}
	master, err := d.master()
	if err != nil {
		return failure(types.FailureFirmwareError, err.Error())
	}
	node, err := master.derive(m.AddressN)
	if err != nil {
		return failure(types.FailureFirmwareError, err.Error())
	}
	return &types.PublicKey{
		Node: node.hdNode(),
		XPub: node.xpub(),
	}
}

// cipherKeyValue is protected by the PIN: a locked device keeps the
// request and asks for the current PIN first.
func (d *Device) cipherKeyValue(m *types.CipherKeyValue) types.Message {
	if !d.initialized {
		return failure(types.FailureNotInitialized, "Device not initialized")
	}
	if d.pin != "" && !d.unlocked {
		d.pending = m
		d.awaitingPin = true
		return &types.PinMatrixRequest{Kind: types.PinMatrixRequestCurrent}
	}
	return d.cipher(m)
}

func (d *Device) cipher(m *types.CipherKeyValue) types.Message {
	master, err := d.master()
	if err != nil {
		return failure(types.FailureFirmwareError, err.Error())
	}
	node, err := master.derive(m.AddressN)
	if err != nil {
		return failure(types.FailureFirmwareError, err.Error())
	}
	value, err := cipherKeyValue(node, m)
	if err != nil {
		return failure(types.FailureSyntaxError, err.Error())
	}
	return &types.CipheredKeyValue{Value: value}
}

// confirmWord asks to confirm the word shown at step; every word is
// shown once and then confirmed once.
func confirmWord(step int) *types.ButtonRequest {
	return &types.ButtonRequest{
		Code: types.ButtonRequestConfirmWord,
		Data: strconv.Itoa(step%wordsShown + 1),
	}
}

func failure(code types.FailureType, msg string) *types.Failure {
	return &types.Failure{Code: code, Message: msg}
}

func unexpected() *types.Failure {
	return failure(types.FailureUnexpectedMessage, "Unexpected message")
}
