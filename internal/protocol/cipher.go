package protocol

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/types"
)

// KeyPurpose selects the chain of the key used for ciphering.
type KeyPurpose int

const (
	KeyPurposeReceiveFunds KeyPurpose = iota
	KeyPurposeChange
	KeyPurposeRefund
	KeyPurposeAuthentication
)

func (k KeyPurpose) chain() uint32 {
	if k == KeyPurposeChange {
		return 1
	}
	return 0
}

var ErrNilPayload = errors.New("cipher key label and value must not be nil")

type CipherKeyRequest struct {
	KeyIndex     uint32
	KeyPurpose   KeyPurpose
	SubIndex     uint32
	KeyLabel     []byte
	KeyValue     []byte
	Encrypt      bool
	AskOnEncrypt bool
	AskOnDecrypt bool
}

// Path is m/44'/0'/keyIndex'/chain/subIndex.
func (r CipherKeyRequest) Path() accounts.DerivationPath {
	return accounts.DerivationPath{
		Purpose + Hardened,
		CoinTypeBitcoin + Hardened,
		r.KeyIndex + Hardened,
		r.KeyPurpose.chain(),
		r.SubIndex,
	}
}

func (r CipherKeyRequest) message() *types.CipherKeyValue {
	return &types.CipherKeyValue{
		AddressN:     r.Path(),
		Key:          r.KeyLabel,
		Value:        r.KeyValue,
		Encrypt:      r.Encrypt,
		AskOnEncrypt: r.AskOnEncrypt,
		AskOnDecrypt: r.AskOnDecrypt,
	}
}

// CipherKeyValue asks the device to encrypt or decrypt a value with a key
// derived from the request. A locked device answers with a PIN request
// and the call stays pending until the device is unlocked.
func (p *Protocol) CipherKeyValue(ctx context.Context, op *Operations, req CipherKeyRequest) error {
	if req.KeyLabel == nil || req.KeyValue == nil {
		return ErrNilPayload
	}
	op.Cipher = &CipherContext{Pending: req}

	reply, err := p.call(ctx, op, req.message())
	if err != nil {
		op.Cipher = nil
		return err
	}
	switch reply.(type) {
	case *types.PinMatrixRequest:
		op.Cipher.AwaitingPin = true
		if op.Auth == nil {
			op.Auth = &AuthContext{Flow: FlowUnlock}
		}
		op.Auth.Stage = StageFirstPin
	case *types.ButtonRequest:
	default:
		op.Cipher = nil
	}
	return nil
}
