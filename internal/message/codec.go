package message

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mbhd/hwclient-go/types"
)

var (
	ErrUnknownMessage = errors.New("unknown message kind")
	ErrMalformedData  = errors.New("malformed message data")
)

// Encode serializes m into its wire kind and protobuf body.
func Encode(m types.Message) (*types.RawMessage, error) {
	var b []byte
	switch msg := m.(type) {
	case *types.Initialize, *types.WipeDevice, *types.ButtonAck,
		*types.EntropyRequest, *types.Cancel, *types.ClearSession:
	case *types.Features:
		b = appendString(b, 1, msg.Vendor)
		b = appendUint(b, 2, msg.MajorVersion)
		b = appendUint(b, 3, msg.MinorVersion)
		b = appendUint(b, 4, msg.PatchVersion)
		b = appendString(b, 6, msg.DeviceID)
		b = appendBool(b, 7, msg.PinProtection)
		b = appendBool(b, 8, msg.PassphraseProtection)
		b = appendString(b, 9, msg.Language)
		b = appendString(b, 10, msg.Label)
		b = appendBool(b, 12, msg.Initialized)
		b = appendBool(b, 15, msg.Imported)
		b = appendBool(b, 16, msg.PinCached)
		b = appendBool(b, 17, msg.PassphraseCached)
	case *types.Success:
		b = appendString(b, 1, msg.Message)
	case *types.Failure:
		b = appendUint(b, 1, uint32(msg.Code))
		b = appendString(b, 2, msg.Message)
	case *types.GetPublicKey:
		b = appendPath(b, 1, msg.AddressN)
		b = appendBool(b, 3, msg.ShowDisplay)
	case *types.PublicKey:
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(&msg.Node))
		b = appendString(b, 2, msg.XPub)
	case *types.ResetDevice:
		b = appendBool(b, 1, msg.DisplayRandom)
		b = appendUint(b, 2, msg.Strength)
		b = appendBool(b, 3, msg.PassphraseProtection)
		b = appendBool(b, 4, msg.PinProtection)
		b = appendString(b, 5, msg.Language)
		b = appendString(b, 6, msg.Label)
	case *types.PinMatrixRequest:
		b = appendUint(b, 1, uint32(msg.Kind))
	case *types.PinMatrixAck:
		// pin is a required field, sent even when empty
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, msg.Pin)
	case *types.ButtonRequest:
		b = appendUint(b, 1, uint32(msg.Code))
		b = appendString(b, 2, msg.Data)
	case *types.EntropyAck:
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Entropy)
	case *types.WordAck:
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, msg.Word)
	case *types.CipherKeyValue:
		b = appendPath(b, 1, msg.AddressN)
		b = appendString(b, 2, string(msg.Key))
		b = appendBytes(b, 3, msg.Value)
		b = appendBool(b, 4, msg.Encrypt)
		b = appendBool(b, 5, msg.AskOnEncrypt)
		b = appendBool(b, 6, msg.AskOnDecrypt)
		b = appendBytes(b, 7, msg.IV)
	case *types.CipheredKeyValue:
		b = appendBytes(b, 1, msg.Value)
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "%T", m)
	}
	return &types.RawMessage{
		Kind: uint16(m.Type()),
		Data: b,
	}, nil
}

// Decode parses a raw device message. Unknown fields are skipped.
func Decode(raw *types.RawMessage) (types.Message, error) {
	m, err := newMessage(types.MessageType(raw.Kind))
	if err != nil {
		return nil, err
	}
	err = walk(raw.Data, func(num protowire.Number, typ protowire.Type, v field) error {
		return decodeField(m, num, typ, v)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newMessage(t types.MessageType) (types.Message, error) {
	switch t {
	case types.MessageTypeInitialize:
		return &types.Initialize{}, nil
	case types.MessageTypeSuccess:
		return &types.Success{}, nil
	case types.MessageTypeFailure:
		return &types.Failure{}, nil
	case types.MessageTypeWipeDevice:
		return &types.WipeDevice{}, nil
	case types.MessageTypeGetPublicKey:
		return &types.GetPublicKey{}, nil
	case types.MessageTypePublicKey:
		return &types.PublicKey{}, nil
	case types.MessageTypeResetDevice:
		return &types.ResetDevice{}, nil
	case types.MessageTypeFeatures:
		return &types.Features{}, nil
	case types.MessageTypePinMatrixRequest:
		return &types.PinMatrixRequest{}, nil
	case types.MessageTypePinMatrixAck:
		return &types.PinMatrixAck{}, nil
	case types.MessageTypeCancel:
		return &types.Cancel{}, nil
	case types.MessageTypeCipherKeyValue:
		return &types.CipherKeyValue{}, nil
	case types.MessageTypeClearSession:
		return &types.ClearSession{}, nil
	case types.MessageTypeButtonRequest:
		return &types.ButtonRequest{}, nil
	case types.MessageTypeButtonAck:
		return &types.ButtonAck{}, nil
	case types.MessageTypeEntropyRequest:
		return &types.EntropyRequest{}, nil
	case types.MessageTypeEntropyAck:
		return &types.EntropyAck{}, nil
	case types.MessageTypeWordAck:
		return &types.WordAck{}, nil
	case types.MessageTypeCipheredKeyValue:
		return &types.CipheredKeyValue{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "kind %d", t)
}

func decodeField(m types.Message, num protowire.Number, typ protowire.Type, v field) error {
	switch msg := m.(type) {
	case *types.Features:
		switch num {
		case 1:
			msg.Vendor = v.str()
		case 2:
			msg.MajorVersion = v.uint32()
		case 3:
			msg.MinorVersion = v.uint32()
		case 4:
			msg.PatchVersion = v.uint32()
		case 6:
			msg.DeviceID = v.str()
		case 7:
			msg.PinProtection = v.bool()
		case 8:
			msg.PassphraseProtection = v.bool()
		case 9:
			msg.Language = v.str()
		case 10:
			msg.Label = v.str()
		case 12:
			msg.Initialized = v.bool()
		case 15:
			msg.Imported = v.bool()
		case 16:
			msg.PinCached = v.bool()
		case 17:
			msg.PassphraseCached = v.bool()
		}
	case *types.Success:
		if num == 1 {
			msg.Message = v.str()
		}
	case *types.Failure:
		switch num {
		case 1:
			msg.Code = types.FailureType(v.uint32())
		case 2:
			msg.Message = v.str()
		}
	case *types.GetPublicKey:
		switch num {
		case 1:
			path, err := v.path(typ)
			if err != nil {
				return err
			}
			msg.AddressN = append(msg.AddressN, path...)
		case 3:
			msg.ShowDisplay = v.bool()
		}
	case *types.PublicKey:
		switch num {
		case 1:
			return walk(v.bytes, func(num protowire.Number, _ protowire.Type, v field) error {
				decodeNodeField(&msg.Node, num, v)
				return nil
			})
		case 2:
			msg.XPub = v.str()
		}
	case *types.ResetDevice:
		switch num {
		case 1:
			msg.DisplayRandom = v.bool()
		case 2:
			msg.Strength = v.uint32()
		case 3:
			msg.PassphraseProtection = v.bool()
		case 4:
			msg.PinProtection = v.bool()
		case 5:
			msg.Language = v.str()
		case 6:
			msg.Label = v.str()
		}
	case *types.PinMatrixRequest:
		if num == 1 {
			msg.Kind = types.PinMatrixRequestType(v.uint32())
		}
	case *types.PinMatrixAck:
		if num == 1 {
			msg.Pin = v.str()
		}
	case *types.ButtonRequest:
		switch num {
		case 1:
			msg.Code = types.ButtonRequestType(v.uint32())
		case 2:
			msg.Data = v.str()
		}
	case *types.EntropyAck:
		if num == 1 {
			msg.Entropy = v.copyBytes()
		}
	case *types.WordAck:
		if num == 1 {
			msg.Word = v.str()
		}
	case *types.CipherKeyValue:
		switch num {
		case 1:
			path, err := v.path(typ)
			if err != nil {
				return err
			}
			msg.AddressN = append(msg.AddressN, path...)
		case 2:
			msg.Key = v.copyBytes()
		case 3:
			msg.Value = v.copyBytes()
		case 4:
			msg.Encrypt = v.bool()
		case 5:
			msg.AskOnEncrypt = v.bool()
		case 6:
			msg.AskOnDecrypt = v.bool()
		case 7:
			msg.IV = v.copyBytes()
		}
	case *types.CipheredKeyValue:
		if num == 1 {
			msg.Value = v.copyBytes()
		}
	}
	return nil
}

func encodeNode(n *types.HDNode) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Depth))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Fingerprint))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.ChildNum))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, n.ChainCode)
	b = appendBytes(b, 6, n.PublicKey)
	return b
}

func decodeNodeField(n *types.HDNode, num protowire.Number, v field) {
	switch num {
	case 1:
		n.Depth = v.uint32()
	case 2:
		n.Fingerprint = v.uint32()
	case 3:
		n.ChildNum = v.uint32()
	case 4:
		n.ChainCode = v.copyBytes()
	case 6:
		n.PublicKey = v.copyBytes()
	}
}

// field is a single decoded protobuf value; only one of varint or bytes
// is meaningful depending on the wire type.
type field struct {
	varint uint64
	bytes  []byte
}

func (f field) uint32() uint32 { return uint32(f.varint) }
func (f field) bool() bool     { return f.varint != 0 }
func (f field) str() string    { return string(f.bytes) }

func (f field) copyBytes() []byte {
	if f.bytes == nil {
		return nil
	}
	return append([]byte{}, f.bytes...)
}

// path returns a repeated uint32 element, accepting both the packed and
// the unpacked encoding.
func (f field) path(typ protowire.Type) ([]uint32, error) {
	if typ == protowire.VarintType {
		return []uint32{uint32(f.varint)}, nil
	}
	var out []uint32
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, ErrMalformedData
		}
		out = append(out, uint32(v))
		b = b[n:]
	}
	return out, nil
}

func walk(b []byte, fn func(protowire.Number, protowire.Type, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrMalformedData
		}
		b = b[n:]
		var v field
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrMalformedData
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return ErrMalformedData
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendUint(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendPath writes address_n unpacked, as the proto2 definitions declare it.
func appendPath(b []byte, num protowire.Number, path []uint32) []byte {
	for _, p := range path {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p))
	}
	return b
}
