package hwclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/event"

	"github.com/mbhd/hwclient-go/events"
	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/internal/protocol"
	"github.com/mbhd/hwclient-go/types"
)

type (
	Level            = protocol.Level
	KeyPurpose       = protocol.KeyPurpose
	CipherKeyRequest = protocol.CipherKeyRequest
	ResetOptions     = protocol.ResetOptions
	SequencingError  = protocol.SequencingError
)

const (
	LevelMaster   = protocol.LevelMaster
	LevelPurpose  = protocol.LevelPurpose
	LevelCoinType = protocol.LevelCoinType
	LevelAccount  = protocol.LevelAccount

	KeyPurposeReceiveFunds   = protocol.KeyPurposeReceiveFunds
	KeyPurposeChange         = protocol.KeyPurposeChange
	KeyPurposeRefund         = protocol.KeyPurposeRefund
	KeyPurposeAuthentication = protocol.KeyPurposeAuthentication

	MnemonicWords     = protocol.MnemonicWords
	ConfirmationSteps = protocol.ConfirmationSteps

	DefaultTimeout        = core.DefaultTimeout
	DefaultMaxPinAttempts = protocol.DefaultMaxPinAttempts
	DefaultEventBuffer    = events.DefaultBuffer
)

var (
	ErrNotAttached    = core.ErrNotAttached
	ErrNotConnected   = core.ErrNotConnected
	ErrTimeout        = core.ErrTimeout
	ErrDeviceNotFound = core.ErrDeviceNotFound
	ErrNilPayload     = protocol.ErrNilPayload
	ErrUnknownLevel   = protocol.ErrUnknownLevel
)

// DefaultResetOptions creates a PIN protected twelve word wallet.
func DefaultResetOptions(label string) ResetOptions {
	return protocol.DefaultResetOptions(label)
}

// PathFor builds the BIP44 path of a hierarchy level.
func PathFor(level Level, coinType, account uint32) (accounts.DerivationPath, error) {
	return protocol.PathFor(level, coinType, account)
}

// Client is a connection to one hardware wallet.
type Client struct {
	core   *core.Core
	events *events.Channel
	proto  *protocol.Protocol
	logger *logs.Logger

	mu  sync.Mutex // guards ops and orders requests
	ops protocol.Operations

	// progress mirrors ops after every request, so Status never waits
	// for a device call
	progressMu sync.Mutex
	progress   progress
}

type progress struct {
	flow          string
	pinAccepted   int
	pinRejected   int
	reset         string
	words         int
	cipherPending bool
}

// do runs f with the operations locked, then records their state.
func (c *Client) do(f func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.snapshot()
	return f()
}

// snapshot must be called with mu held.
func (c *Client) snapshot() {
	p := progress{
		flow:          protocol.FlowNone.String(),
		reset:         protocol.ResetIdle.String(),
		cipherPending: c.ops.Cipher != nil,
	}
	if a := c.ops.Auth; a != nil {
		p.flow = a.Flow.String()
		p.pinAccepted = a.Accepted
		p.pinRejected = a.Rejected
	}
	if r := c.ops.Reset; r != nil {
		p.reset = r.State.String()
		p.words = r.WordsConfirmed
	}
	c.progressMu.Lock()
	c.progress = p
	c.progressMu.Unlock()
}

// Subscribe sends every event published from now on to ch.
func (c *Client) Subscribe(ch chan<- types.MessageEvent) event.Subscription {
	return c.events.Subscribe(ch)
}

// Enumerate lists the supported devices currently visible, without
// attaching to any of them.
func (c *Client) Enumerate() ([]types.DeviceInfo, error) {
	return c.core.Enumerate()
}

// Attach reports whether a supported device is present. The device is not
// contacted.
func (c *Client) Attach() bool {
	return c.core.Attach()
}

// Connect opens the attached device. DEVICE_CONNECTED is published before
// Connect returns.
func (c *Client) Connect() error {
	return c.do(func() error {
		c.ops.Abandon()
		return c.core.Connect()
	})
}

// Disconnect closes the device and drops every operation in progress.
func (c *Client) Disconnect() error {
	return c.do(func() error {
		c.ops.Abandon()
		return c.core.Disconnect()
	})
}

// Close disconnects and ends every subscription.
func (c *Client) Close() {
	if err := c.Disconnect(); err != nil && err != ErrNotConnected {
		c.logger.Log("close - " + err.Error())
	}
	c.events.Close()
}

// SessionID names the current connection, or is empty when disconnected.
func (c *Client) SessionID() string {
	return c.core.SessionID()
}

// Initialise asks the device for its features and starts authentication.
func (c *Client) Initialise(ctx context.Context) error {
	return c.do(func() error {
		return c.proto.Initialise(ctx, &c.ops)
	})
}

// GetDeterministicHierarchy requests the public key at path; the result is
// published as a PUBLIC_KEY event. Paths deeper than the account level are
// a programming error and panic with a *SequencingError.
func (c *Client) GetDeterministicHierarchy(ctx context.Context, path accounts.DerivationPath) error {
	return c.do(func() error {
		return c.proto.GetDeterministicHierarchy(ctx, &c.ops, path)
	})
}

// GetPublicKeyFor requests the public key of a BIP44 level.
func (c *Client) GetPublicKeyFor(ctx context.Context, level Level, coinType, account uint32) error {
	path, err := protocol.PathFor(level, coinType, account)
	if err != nil {
		return err
	}
	return c.GetDeterministicHierarchy(ctx, path)
}

// PinMatrixAck sends the PIN as entered on the matrix.
func (c *Client) PinMatrixAck(ctx context.Context, pin string) error {
	return c.do(func() error {
		return c.proto.PinMatrixAck(ctx, &c.ops, pin)
	})
}

func (c *Client) ButtonAck(ctx context.Context) error {
	return c.do(func() error {
		return c.proto.ButtonAck(ctx, &c.ops)
	})
}

// WipeDevice erases the device and starts creating a new wallet.
func (c *Client) WipeDevice(ctx context.Context) error {
	return c.do(func() error {
		return c.proto.WipeDevice(ctx, &c.ops)
	})
}

func (c *Client) ResetDevice(ctx context.Context, opts ResetOptions) error {
	return c.do(func() error {
		return c.proto.ResetDevice(ctx, &c.ops, opts)
	})
}

// EntropyAck supplies host entropy for the new wallet.
func (c *Client) EntropyAck(ctx context.Context, entropy []byte) error {
	return c.do(func() error {
		return c.proto.EntropyAck(ctx, &c.ops, entropy)
	})
}

// WordAck confirms one mnemonic step.
func (c *Client) WordAck(ctx context.Context, word string) error {
	return c.do(func() error {
		return c.proto.WordAck(ctx, &c.ops, word)
	})
}

// CipherKeyValue encrypts or decrypts a value with a device key.
func (c *Client) CipherKeyValue(ctx context.Context, req CipherKeyRequest) error {
	return c.do(func() error {
		return c.proto.CipherKeyValue(ctx, &c.ops, req)
	})
}

// Abandon drops every operation in progress without talking to the
// device.
func (c *Client) Abandon() {
	_ = c.do(func() error {
		c.ops.Abandon()
		return nil
	})
}

// Status describes the connection and the operations in progress.
type Status struct {
	Device        *types.DeviceInfo `json:"device,omitempty"`
	Session       string            `json:"session,omitempty"`
	Flow          string            `json:"flow"`
	PinAccepted   int               `json:"pinAccepted"`
	PinRejected   int               `json:"pinRejected"`
	Reset         string            `json:"reset"`
	Words         int               `json:"words"`
	CipherPending bool              `json:"cipherPending"`
	Subscribers   int               `json:"subscribers"`
}

func (s Status) String() string {
	device := "none"
	if s.Device != nil {
		device = s.Device.Path
	}
	return fmt.Sprintf("device %s, session %q, flow %s, pin %d accepted %d rejected, reset %s, words %d, cipher pending %t, subscribers %d",
		device, s.Session, s.Flow, s.PinAccepted, s.PinRejected, s.Reset, s.Words, s.CipherPending, s.Subscribers)
}

// Status never waits for a call in progress; the operation fields reflect
// the last completed request.
func (c *Client) Status() Status {
	c.progressMu.Lock()
	p := c.progress
	c.progressMu.Unlock()

	s := Status{
		Session:       c.core.SessionID(),
		Flow:          p.flow,
		PinAccepted:   p.pinAccepted,
		PinRejected:   p.pinRejected,
		Reset:         p.reset,
		Words:         p.words,
		CipherPending: p.cipherPending,
		Subscribers:   c.events.Len(),
	}
	if info, ok := c.core.Attached(); ok {
		s.Device = &info
	}
	return s
}
