package hwclient

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhd/hwclient-go/simulator"
	"github.com/mbhd/hwclient-go/types"
)

type harness struct {
	t      *testing.T
	client *Client
	device *simulator.Device
	events chan types.MessageEvent
}

func newHarness(t *testing.T, script simulator.Script, options ...InitOption) *harness {
	t.Helper()
	dev := simulator.New(script)
	c, err := New(append([]InitOption{WithBus(simulator.NewBus(dev))}, options...)...)
	require.NoError(t, err)

	ch := make(chan types.MessageEvent, 256)
	sub := c.Subscribe(ch)
	t.Cleanup(func() {
		sub.Unsubscribe()
		c.Close()
	})
	return &harness{t: t, client: c, device: dev, events: ch}
}

// connect attaches and connects, consuming the lifecycle events.
func (h *harness) connect() {
	h.t.Helper()
	require.True(h.t, h.client.Attach())
	require.NoError(h.t, h.client.Connect())
	h.expect(types.EventDeviceAttached)
	h.expect(types.EventDeviceConnected)
}

func (h *harness) next() types.MessageEvent {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event")
	}
	return types.MessageEvent{}
}

func (h *harness) expect(want types.MessageEventType) types.MessageEvent {
	h.t.Helper()
	ev := h.next()
	require.Equal(h.t, want, ev.Type, "got %s", ev)
	return ev
}

func (h *harness) quiet() {
	h.t.Helper()
	select {
	case ev := <-h.events:
		h.t.Fatalf("unexpected event %s", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

var unlockRequest = CipherKeyRequest{
	KeyIndex:     0,
	KeyPurpose:   KeyPurposeReceiveFunds,
	SubIndex:     0,
	KeyLabel:     []byte("MultiBit HD     Unlock"),
	KeyValue:     []byte("0123456789abcdef"),
	Encrypt:      true,
	AskOnEncrypt: true,
	AskOnDecrypt: true,
}

func TestConnectedComesFirst(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	require.True(t, h.client.Attach())
	require.NoError(t, h.client.Connect())
	h.expect(types.EventDeviceAttached)
	h.expect(types.EventDeviceConnected)

	require.NoError(t, h.client.Initialise(context.Background()))
	h.expect(types.EventFeatures)
	h.quiet()
}

func TestNotConnected(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	assert.Equal(t, ErrNotConnected, h.client.Initialise(context.Background()))
	assert.Equal(t, ErrNotAttached, h.client.Connect())
}

func TestUnlockFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised)
	h.connect()

	require.NoError(t, h.client.Initialise(ctx))
	assert.True(t, h.expect(types.EventFeatures).Message.(*types.Features).Initialized)

	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	pm := h.expect(types.EventPinMatrixRequest).Message.(*types.PinMatrixRequest)
	assert.Equal(t, types.PinMatrixRequestCurrent, pm.Kind)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
		ev := h.expect(types.EventFailure)
		assert.True(t, types.IsPinFailure(ev.Message))
	}

	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.DefaultPin))
	br := h.expect(types.EventButtonRequest).Message.(*types.ButtonRequest)
	assert.Equal(t, types.ButtonRequestProtectCall, br.Code)

	require.NoError(t, h.client.ButtonAck(ctx))
	ckv := h.expect(types.EventCipheredKeyValue).Message.(*types.CipheredKeyValue)
	assert.Len(t, ckv.Value, 16)

	st := h.client.Status()
	assert.Equal(t, 3, st.PinRejected)
	assert.Equal(t, 1, st.PinAccepted)
	assert.False(t, st.CipherPending)
}

func TestIncorrectPinIndependentOfCallCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised, MaxPinAttempts(0))
	h.connect()

	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	h.expect(types.EventPinMatrixRequest)
	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.DefaultPin))
	h.expect(types.EventButtonRequest)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
		assert.True(t, types.IsPinFailure(h.expect(types.EventFailure).Message))
	}
}

func TestPinLockout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised, MaxPinAttempts(2))
	h.connect()

	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	h.expect(types.EventPinMatrixRequest)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
	}
	h.expect(types.EventFailure)
	h.expect(types.EventFailure)
	lockout := h.expect(types.EventFailure).Message.(*types.Failure)
	assert.Equal(t, types.FailurePinLockout, lockout.Code)

	acks := 0
	for _, kind := range h.device.Requests() {
		if kind == types.MessageTypePinMatrixAck {
			acks++
		}
	}
	assert.Equal(t, 2, acks)

	// a new authentication starts counting again
	require.NoError(t, h.client.Initialise(ctx))
	h.expect(types.EventFeatures)
	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
	assert.True(t, types.IsPinFailure(h.expect(types.EventFailure).Message))
}

func TestWipedFeaturesOnlyFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	h.connect()

	for i := 1; i <= 4; i++ {
		require.NoError(t, h.client.Initialise(ctx))
		f := h.expect(types.EventFeatures).Message.(*types.Features)
		assert.Equal(t, i != 1, f.Initialized, "call %d", i)
	}
}

// startWords drives a wiped device up to the mnemonic confirmation.
func (h *harness) startWords(ctx context.Context) {
	h.t.Helper()
	require.NoError(h.t, h.client.WipeDevice(ctx))
	assert.Equal(h.t, types.ButtonRequestWipeDevice, h.expect(types.EventButtonRequest).Message.(*types.ButtonRequest).Code)

	require.NoError(h.t, h.client.PinMatrixAck(ctx, "1234"))
	assert.Equal(h.t, types.PinMatrixRequestNewSecond, h.expect(types.EventPinMatrixRequest).Message.(*types.PinMatrixRequest).Kind)
	require.NoError(h.t, h.client.PinMatrixAck(ctx, "1234"))
	h.expect(types.EventEntropyRequest)

	require.NoError(h.t, h.client.EntropyAck(ctx, []byte("host entropy")))
	assert.Equal(h.t, types.ButtonRequestConfirmWord, h.expect(types.EventButtonRequest).Message.(*types.ButtonRequest).Code)
}

func TestWordAckSuccessOnlyAfterAllSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	h.connect()
	h.startWords(ctx)

	for i := 1; i < ConfirmationSteps; i++ {
		require.NoError(t, h.client.WordAck(ctx, "word"))
		h.expect(types.EventButtonRequest)
	}
	assert.Equal(t, ConfirmationSteps-1, h.client.Status().Words)

	require.NoError(t, h.client.WordAck(ctx, "word"))
	assert.Equal(t, "Device reset", h.expect(types.EventSuccess).Message.(*types.Success).Message)
	assert.Equal(t, "idle", h.client.Status().Reset)
	assert.Equal(t, "unlock", h.client.Status().Flow)
}

func TestWordCounterRestartsWithNewReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	h.connect()
	h.startWords(ctx)
	for i := 0; i < 10; i++ {
		require.NoError(t, h.client.WordAck(ctx, "word"))
		h.expect(types.EventButtonRequest)
	}

	h.startWords(ctx)
	assert.Equal(t, 0, h.client.Status().Words)
	for i := 1; i < ConfirmationSteps; i++ {
		require.NoError(t, h.client.WordAck(ctx, "word"))
		h.expect(types.EventButtonRequest)
	}
	h.quiet()
}

func TestHierarchyDepths(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised)
	h.connect()

	seen := map[string]bool{}
	for level := LevelMaster; level <= LevelAccount; level++ {
		require.NoError(t, h.client.GetPublicKeyFor(ctx, level, 0, 0))
		pk := h.expect(types.EventPublicKey).Message.(*types.PublicKey)
		assert.Equal(t, uint32(level), pk.Node.Depth)
		assert.False(t, seen[pk.XPub], "level %s", level)
		seen[pk.XPub] = true
	}

	// same path, same key
	path, err := PathFor(LevelAccount, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.client.GetDeterministicHierarchy(ctx, path))
	assert.True(t, seen[h.expect(types.EventPublicKey).Message.(*types.PublicKey).XPub])

	deep := append(accounts.DerivationPath{}, path...)
	deep = append(deep, 0)
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			_, ok := r.(*SequencingError)
			assert.True(t, ok, "%v", r)
		}()
		_ = h.client.GetDeterministicHierarchy(ctx, deep)
	}()
	h.quiet()

	// the client stays usable after the panic
	require.NoError(t, h.client.GetPublicKeyFor(ctx, LevelMaster, 0, 0))
	h.expect(types.EventPublicKey)

	assert.Equal(t, ErrUnknownLevel, h.client.GetPublicKeyFor(ctx, Level(7), 0, 0))
}

func TestCipherRepeatAfterUnlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised)
	h.connect()

	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	h.expect(types.EventPinMatrixRequest)
	assert.True(t, h.client.Status().CipherPending)

	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.DefaultPin))
	h.expect(types.EventButtonRequest)

	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	first := h.expect(types.EventCipheredKeyValue).Message.(*types.CipheredKeyValue)
	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	second := h.expect(types.EventCipheredKeyValue).Message.(*types.CipheredKeyValue)
	assert.Equal(t, first.Value, second.Value)
	h.quiet()
}

func TestCipherNilPayload(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	h.connect()
	req := unlockRequest
	req.KeyLabel = nil
	assert.Equal(t, ErrNilPayload, h.client.CipherKeyValue(context.Background(), req))
	h.quiet()
}

func TestCreateWalletWithoutFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	require.True(t, h.client.Attach())
	require.NoError(t, h.client.Connect())

	require.NoError(t, h.client.Initialise(ctx))
	require.NoError(t, h.client.WipeDevice(ctx))
	require.NoError(t, h.client.PinMatrixAck(ctx, "1234"))
	require.NoError(t, h.client.PinMatrixAck(ctx, "1234"))
	require.NoError(t, h.client.EntropyAck(ctx, []byte("host entropy")))
	for i := 0; i < ConfirmationSteps; i++ {
		require.NoError(t, h.client.WordAck(ctx, "word"))
	}
	require.NoError(t, h.client.GetDeterministicHierarchy(ctx, nil))

	var got []types.MessageEventType
	for len(got) < 3+4+ConfirmationSteps+1 {
		ev := h.next()
		got = append(got, ev.Type)
		assert.NotEqual(t, types.EventFailure, ev.Type, "%s", ev)
	}
	assert.Equal(t, types.EventDeviceConnected, got[1])
	assert.Equal(t, types.EventSuccess, got[len(got)-2])
	assert.Equal(t, types.EventPublicKey, got[len(got)-1])
	assert.NotEmpty(t, h.device.Mnemonic())
	h.quiet()
}

func TestCreateWalletIncorrectPin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	h.connect()

	require.NoError(t, h.client.WipeDevice(ctx))
	h.expect(types.EventButtonRequest)

	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
	assert.True(t, types.IsPinFailure(h.expect(types.EventFailure).Message))
	require.NoError(t, h.client.PinMatrixAck(ctx, "1234"))
	assert.Equal(t, types.PinMatrixRequestNewSecond, h.expect(types.EventPinMatrixRequest).Message.(*types.PinMatrixRequest).Kind)

	require.NoError(t, h.client.PinMatrixAck(ctx, simulator.IncorrectPin))
	assert.True(t, types.IsPinFailure(h.expect(types.EventFailure).Message))
	require.NoError(t, h.client.PinMatrixAck(ctx, "1234"))
	h.expect(types.EventEntropyRequest)

	require.NoError(t, h.client.EntropyAck(ctx, []byte("host entropy")))
	h.expect(types.EventButtonRequest)
	for i := 1; i < ConfirmationSteps; i++ {
		require.NoError(t, h.client.WordAck(ctx, "word"))
		h.expect(types.EventButtonRequest)
	}
	require.NoError(t, h.client.WordAck(ctx, "word"))
	h.expect(types.EventSuccess)

	// the new wallet protects its keys with the new PIN
	require.NoError(t, h.client.CipherKeyValue(ctx, unlockRequest))
	h.expect(types.EventPinMatrixRequest)
	require.NoError(t, h.client.PinMatrixAck(ctx, "1234"))
	br := h.expect(types.EventButtonRequest).Message.(*types.ButtonRequest)
	assert.Equal(t, types.ButtonRequestProtectCall, br.Code)
	h.quiet()
}

func TestCallTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Initialised, WithTimeout(50*time.Millisecond))
	h.connect()
	h.device.Freeze(true)

	assert.Equal(t, ErrTimeout, h.client.Initialise(ctx))
	f := h.expect(types.EventFailure).Message.(*types.Failure)
	assert.Equal(t, types.FailureTimeout, f.Code)
	h.expect(types.EventDeviceDisconnected)

	h.device.Freeze(false)
	require.NoError(t, h.client.Connect())
	h.expect(types.EventDeviceConnected)
	require.NoError(t, h.client.Initialise(ctx))
	h.expect(types.EventFeatures)
}

func TestCallCancelledReportsDisconnect(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	h.connect()
	h.device.Freeze(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, h.client.Initialise(ctx))
	f := h.expect(types.EventFailure).Message.(*types.Failure)
	assert.Equal(t, types.FailureActionCancelled, f.Code)
	h.expect(types.EventDeviceDisconnected)
	assert.Empty(t, h.client.Status().Session)

	h.device.Freeze(false)
	require.NoError(t, h.client.Connect())
	h.expect(types.EventDeviceConnected)
	require.NoError(t, h.client.Initialise(context.Background()))
	h.expect(types.EventFeatures)
}

func TestStatusDuringHungCall(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	h.connect()
	require.NoError(t, h.client.CipherKeyValue(context.Background(), unlockRequest))
	h.expect(types.EventPinMatrixRequest)
	h.device.Freeze(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.client.Initialise(ctx)
	}()
	require.Eventually(t, func() bool {
		return len(h.device.Requests()) >= 2
	}, time.Second, time.Millisecond)

	start := time.Now()
	st := h.client.Status()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.NotEmpty(t, st.Session)
	assert.True(t, st.CipherPending)

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestAbandonDropsOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simulator.Wiped)
	h.connect()
	h.startWords(ctx)
	assert.Equal(t, "confirming words", h.client.Status().Reset)

	h.client.Abandon()
	st := h.client.Status()
	assert.Equal(t, "idle", st.Reset)
	assert.Equal(t, "none", st.Flow)
	h.quiet()
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, simulator.Initialised)
	h.connect()
	require.NoError(t, h.client.Disconnect())
	h.expect(types.EventDeviceDisconnected)
	assert.Empty(t, h.client.Status().Session)
	assert.Equal(t, ErrNotConnected, h.client.Disconnect())
}
