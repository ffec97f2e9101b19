package protocol

import (
	"context"

	"github.com/mbhd/hwclient-go/types"
)

const (
	MnemonicWords = 12
	// ConfirmationSteps covers every word shown once and then confirmed
	// once more.
	ConfirmationSteps = 2 * MnemonicWords

	DefaultStrength = 128
	DefaultLanguage = "english"
)

type ResetOptions struct {
	Label                string
	Language             string
	Strength             uint32
	PinProtection        bool
	PassphraseProtection bool
	DisplayRandom        bool
}

// DefaultResetOptions creates a PIN protected twelve word wallet.
func DefaultResetOptions(label string) ResetOptions {
	return ResetOptions{
		Label:         label,
		Language:      DefaultLanguage,
		Strength:      DefaultStrength,
		PinProtection: true,
	}
}

// WipeDevice starts a new wallet creation, dropping any operation in
// progress.
func (p *Protocol) WipeDevice(ctx context.Context, op *Operations) error {
	op.Abandon()
	op.Reset = &ResetContext{State: ResetWipeRequested}
	op.Auth = &AuthContext{Flow: FlowCreate, Stage: StageFirstPin}

	reply, err := p.call(ctx, op, &types.WipeDevice{})
	if err != nil {
		return err
	}
	if _, ok := reply.(*types.ButtonRequest); ok && op.Reset != nil {
		op.Reset.State = ResetPinEntry
	}
	return nil
}

// ResetDevice asks the device to generate a new wallet.
func (p *Protocol) ResetDevice(ctx context.Context, op *Operations, opts ResetOptions) error {
	if opts.Strength == 0 {
		opts.Strength = DefaultStrength
	}
	if op.Reset == nil {
		op.Reset = &ResetContext{State: ResetWipeRequested}
	}
	if op.Auth == nil || op.Auth.Flow != FlowCreate {
		op.Auth = &AuthContext{Flow: FlowCreate}
	}

	reply, err := p.call(ctx, op, &types.ResetDevice{
		DisplayRandom:        opts.DisplayRandom,
		Strength:             opts.Strength,
		PassphraseProtection: opts.PassphraseProtection,
		PinProtection:        opts.PinProtection,
		Language:             opts.Language,
		Label:                opts.Label,
	})
	if err != nil {
		return err
	}
	switch reply.(type) {
	case *types.PinMatrixRequest:
		op.Reset.State = ResetPinEntry
		op.Auth.Stage = StageFirstPin
	case *types.EntropyRequest:
		op.Reset.State = ResetEntropyRequested
		op.Auth.Stage = StageEntropyRequested
	}
	return nil
}

// EntropyAck supplies host entropy. Nil is sent as empty.
func (p *Protocol) EntropyAck(ctx context.Context, op *Operations, entropy []byte) error {
	if entropy == nil {
		entropy = []byte{}
	}
	reply, err := p.call(ctx, op, &types.EntropyAck{Entropy: entropy})
	if err != nil {
		return err
	}
	if _, ok := reply.(*types.ButtonRequest); ok {
		if op.Reset == nil {
			op.Reset = &ResetContext{}
		}
		op.Reset.State = ResetConfirmingWords
		op.Reset.WordsConfirmed = 0
	}
	return nil
}

// WordAck confirms one step of the mnemonic display. The device answers
// ConfirmationSteps-1 times with a ButtonRequest and then with Success.
func (p *Protocol) WordAck(ctx context.Context, op *Operations, word string) error {
	if op.Reset == nil {
		op.Reset = &ResetContext{State: ResetConfirmingWords}
	}
	reply, err := p.call(ctx, op, &types.WordAck{Word: word})
	if err != nil {
		return err
	}
	switch reply.(type) {
	case *types.ButtonRequest:
		op.Reset.State = ResetConfirmingWords
		op.Reset.WordsConfirmed++
		p.log.Logf("reset - word %d of %d", op.Reset.WordsConfirmed, ConfirmationSteps)
	case *types.Success:
		op.Reset.WordsConfirmed++
		p.completeReset(op)
	}
	return nil
}

// completeReset disposes the finished reset; the next authentication
// unlocks the new wallet.
func (p *Protocol) completeReset(op *Operations) {
	if op.Reset == nil {
		return
	}
	p.log.Logf("reset - complete after %d steps", op.Reset.WordsConfirmed)
	op.Reset = nil
	op.Auth = &AuthContext{Flow: FlowUnlock}
}
