package protocol

import (
	"context"

	"github.com/mbhd/hwclient-go/types"
)

// Initialise asks the device for its features and starts a new
// authentication: unlock when the device holds a wallet, create when it
// is wiped. Every operation in progress is dropped.
func (p *Protocol) Initialise(ctx context.Context, op *Operations) error {
	op.Abandon()
	op.Auth = &AuthContext{}

	reply, err := p.call(ctx, op, &types.Initialize{})
	if err != nil {
		return err
	}
	if f, ok := reply.(*types.Features); ok {
		if f.Initialized {
			op.Auth.Flow = FlowUnlock
		} else {
			op.Auth.Flow = FlowCreate
		}
		p.log.Logf("auth - features, flow %s", op.Auth.Flow)
	}
	return nil
}

// PinMatrixAck sends pin as entered. Once MaxPinAttempts PINs were
// rejected in this authentication the device is not contacted and a
// local PinLockout failure is published instead.
func (p *Protocol) PinMatrixAck(ctx context.Context, op *Operations, pin string) error {
	auth := op.Auth
	if auth == nil {
		auth = &AuthContext{Flow: FlowUnlock}
		op.Auth = auth
	}
	if p.maxPinAttempts > 0 && auth.Rejected >= p.maxPinAttempts {
		p.log.Logf("auth - locked out after %d rejected pins", auth.Rejected)
		p.pub.Publish(types.NewMessageEvent(&types.Failure{
			Code:    types.FailurePinLockout,
			Message: "too many incorrect PIN attempts",
		}))
		return nil
	}

	reply, err := p.call(ctx, op, &types.PinMatrixAck{Pin: pin})
	if err != nil {
		return err
	}
	switch r := reply.(type) {
	case *types.Failure:
		if r.Code == types.FailurePinInvalid {
			auth.Rejected++
			p.log.Logf("auth - pin rejected (%d)", auth.Rejected)
		}
		return nil
	case *types.PinMatrixRequest:
		auth.Stage = StageSecondPin
	case *types.EntropyRequest:
		auth.Stage = StageEntropyRequested
		if op.Reset != nil {
			op.Reset.State = ResetEntropyRequested
		}
	default:
		auth.Stage = StageUnlocked
	}
	auth.Accepted++
	if op.Cipher != nil {
		op.Cipher.AwaitingPin = false
	}
	p.log.Logf("auth - pin accepted (%d)", auth.Accepted)
	return nil
}

// ButtonAck confirms the button press the device asked for. A pending
// protected call completes with the reply to the acknowledgement.
func (p *Protocol) ButtonAck(ctx context.Context, op *Operations) error {
	reply, err := p.call(ctx, op, &types.ButtonAck{})
	if err != nil {
		return err
	}
	switch reply.(type) {
	case *types.CipheredKeyValue, *types.Failure:
		op.Cipher = nil
	case *types.PinMatrixRequest:
		if op.Reset != nil && op.Reset.State == ResetWipeRequested {
			op.Reset.State = ResetPinEntry
		}
		if op.Auth != nil {
			op.Auth.Stage = StageFirstPin
		}
		if op.Cipher != nil {
			op.Cipher.AwaitingPin = true
		}
	case *types.Success:
		p.completeReset(op)
	}
	return nil
}
