// Package protocol holds the request/reply rules of the device
// operations. Methods are stateless: the state of the operations in
// progress lives in an Operations value owned by the caller, which must
// not be used from more than one goroutine at a time.
package protocol

import (
	"context"
	"fmt"

	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/types"
)

// DefaultMaxPinAttempts matches the firmware, which wipes itself after
// sixteen wrong PINs.
const DefaultMaxPinAttempts = 16

// Caller makes one request/reply exchange with the device. The reply is
// published by the caller.
type Caller interface {
	Call(ctx context.Context, msg types.Message) (types.Message, error)
}

type Publisher interface {
	Publish(ev types.MessageEvent)
}

// SequencingError is a programming error in the order or shape of
// requests. It is raised with panic, never sent to the device.
type SequencingError struct {
	Op     string
	Reason string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

type Protocol struct {
	dev            Caller
	pub            Publisher
	maxPinAttempts int
	log            *logs.Logger
}

// New returns the protocol rules bound to a device. maxPinAttempts 0
// disables the local PIN lockout.
func New(dev Caller, pub Publisher, maxPinAttempts int, log *logs.Logger) *Protocol {
	return &Protocol{
		dev:            dev,
		pub:            pub,
		maxPinAttempts: maxPinAttempts,
		log:            log,
	}
}

// call sends msg and, whatever the operation, drops the reset in progress
// when the device answers with a Failure other than a wrong PIN.
func (p *Protocol) call(ctx context.Context, op *Operations, msg types.Message) (types.Message, error) {
	reply, err := p.dev.Call(ctx, msg)
	if err != nil {
		p.log.Logf("protocol - %s failed: %s", msg.Type(), err)
		return nil, err
	}
	if f, ok := reply.(*types.Failure); ok && f.Code != types.FailurePinInvalid && op.Reset != nil {
		p.log.Logf("protocol - reset abandoned in state %s", op.Reset.State)
		op.Reset = nil
	}
	return reply, nil
}
