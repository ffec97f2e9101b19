package types

import "strconv"

// MessageType is the wire number of a device message.
type MessageType uint16

const (
	MessageTypeInitialize       MessageType = 0
	MessageTypeSuccess          MessageType = 2
	MessageTypeFailure          MessageType = 3
	MessageTypeWipeDevice       MessageType = 5
	MessageTypeGetPublicKey     MessageType = 11
	MessageTypePublicKey        MessageType = 12
	MessageTypeResetDevice      MessageType = 14
	MessageTypeFeatures         MessageType = 17
	MessageTypePinMatrixRequest MessageType = 18
	MessageTypePinMatrixAck     MessageType = 19
	MessageTypeCancel           MessageType = 20
	MessageTypeCipherKeyValue   MessageType = 23
	MessageTypeClearSession     MessageType = 24
	MessageTypeButtonRequest    MessageType = 26
	MessageTypeButtonAck        MessageType = 27
	MessageTypeEntropyRequest   MessageType = 35
	MessageTypeEntropyAck       MessageType = 36
	MessageTypeWordAck          MessageType = 47
	MessageTypeCipheredKeyValue MessageType = 48
)

var messageTypeNames = map[MessageType]string{
	MessageTypeInitialize:       "Initialize",
	MessageTypeSuccess:          "Success",
	MessageTypeFailure:          "Failure",
	MessageTypeWipeDevice:       "WipeDevice",
	MessageTypeGetPublicKey:     "GetPublicKey",
	MessageTypePublicKey:        "PublicKey",
	MessageTypeResetDevice:      "ResetDevice",
	MessageTypeFeatures:         "Features",
	MessageTypePinMatrixRequest: "PinMatrixRequest",
	MessageTypePinMatrixAck:     "PinMatrixAck",
	MessageTypeCancel:           "Cancel",
	MessageTypeCipherKeyValue:   "CipherKeyValue",
	MessageTypeClearSession:     "ClearSession",
	MessageTypeButtonRequest:    "ButtonRequest",
	MessageTypeButtonAck:        "ButtonAck",
	MessageTypeEntropyRequest:   "EntropyRequest",
	MessageTypeEntropyAck:       "EntropyAck",
	MessageTypeWordAck:          "WordAck",
	MessageTypeCipheredKeyValue: "CipheredKeyValue",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}

// Message is a decoded device message. Values are produced by decoding a
// device reply (or built by the caller for a request) and are not
// modified afterwards.
type Message interface {
	Type() MessageType
}

type FailureType uint32

const (
	FailureUnexpectedMessage FailureType = 1
	FailureButtonExpected    FailureType = 2
	FailureSyntaxError       FailureType = 3
	FailureActionCancelled   FailureType = 4
	FailurePinExpected       FailureType = 5
	FailurePinCancelled      FailureType = 6
	FailurePinInvalid        FailureType = 7
	FailureInvalidSignature  FailureType = 8
	FailureOther             FailureType = 9
	FailureNotEnoughFunds    FailureType = 10
	FailureNotInitialized    FailureType = 11
	FailureFirmwareError     FailureType = 99

	// Local codes, never sent by a device.
	FailureTimeout    FailureType = 1000
	FailureTransport  FailureType = 1001
	FailurePinLockout FailureType = 1002
)

type ButtonRequestType uint32

const (
	ButtonRequestOther            ButtonRequestType = 1
	ButtonRequestFeeOverThreshold ButtonRequestType = 2
	ButtonRequestConfirmOutput    ButtonRequestType = 3
	ButtonRequestResetDevice      ButtonRequestType = 4
	ButtonRequestConfirmWord      ButtonRequestType = 5
	ButtonRequestWipeDevice       ButtonRequestType = 6
	ButtonRequestProtectCall      ButtonRequestType = 7
	ButtonRequestSignTx           ButtonRequestType = 8
	ButtonRequestFirmwareCheck    ButtonRequestType = 9
	ButtonRequestAddress          ButtonRequestType = 10
)

type PinMatrixRequestType uint32

const (
	PinMatrixRequestCurrent   PinMatrixRequestType = 1
	PinMatrixRequestNewFirst  PinMatrixRequestType = 2
	PinMatrixRequestNewSecond PinMatrixRequestType = 3
)

type Initialize struct{}

type Features struct {
	Vendor               string `json:"vendor,omitempty"`
	MajorVersion         uint32 `json:"majorVersion"`
	MinorVersion         uint32 `json:"minorVersion"`
	PatchVersion         uint32 `json:"patchVersion"`
	DeviceID             string `json:"deviceId,omitempty"`
	PinProtection        bool   `json:"pinProtection"`
	PassphraseProtection bool   `json:"passphraseProtection"`
	Language             string `json:"language,omitempty"`
	Label                string `json:"label,omitempty"`
	Initialized          bool   `json:"initialized"`
	Imported             bool   `json:"imported"`
	PinCached            bool   `json:"pinCached"`
	PassphraseCached     bool   `json:"passphraseCached"`
}

type Success struct {
	Message string `json:"message,omitempty"`
}

type Failure struct {
	Code    FailureType `json:"code"`
	Message string      `json:"message,omitempty"`
}

type WipeDevice struct{}

type GetPublicKey struct {
	AddressN    []uint32 `json:"addressN"`
	ShowDisplay bool     `json:"showDisplay"`
}

// HDNode is a node of the deterministic key tree as reported by the device.
type HDNode struct {
	Depth       uint32 `json:"depth"`
	Fingerprint uint32 `json:"fingerprint"`
	ChildNum    uint32 `json:"childNum"`
	ChainCode   []byte `json:"chainCode"`
	PublicKey   []byte `json:"publicKey"`
}

type PublicKey struct {
	Node HDNode `json:"node"`
	XPub string `json:"xpub,omitempty"`
}

type ResetDevice struct {
	DisplayRandom        bool   `json:"displayRandom"`
	Strength             uint32 `json:"strength"`
	PassphraseProtection bool   `json:"passphraseProtection"`
	PinProtection        bool   `json:"pinProtection"`
	Language             string `json:"language,omitempty"`
	Label                string `json:"label,omitempty"`
}

type PinMatrixRequest struct {
	Kind PinMatrixRequestType `json:"type"`
}

type PinMatrixAck struct {
	Pin string `json:"-"`
}

type ButtonRequest struct {
	Code ButtonRequestType `json:"code"`
	Data string            `json:"data,omitempty"`
}

type ButtonAck struct{}

type EntropyRequest struct{}

type EntropyAck struct {
	Entropy []byte `json:"-"`
}

type WordAck struct {
	Word string `json:"-"`
}

type CipherKeyValue struct {
	AddressN     []uint32 `json:"addressN"`
	Key          []byte   `json:"key"`
	Value        []byte   `json:"value"`
	Encrypt      bool     `json:"encrypt"`
	AskOnEncrypt bool     `json:"askOnEncrypt"`
	AskOnDecrypt bool     `json:"askOnDecrypt"`
	IV           []byte   `json:"iv,omitempty"`
}

type CipheredKeyValue struct {
	Value []byte `json:"value"`
}

type Cancel struct{}

type ClearSession struct{}

func (*Initialize) Type() MessageType       { return MessageTypeInitialize }
func (*Features) Type() MessageType         { return MessageTypeFeatures }
func (*Success) Type() MessageType          { return MessageTypeSuccess }
func (*Failure) Type() MessageType          { return MessageTypeFailure }
func (*WipeDevice) Type() MessageType       { return MessageTypeWipeDevice }
func (*GetPublicKey) Type() MessageType     { return MessageTypeGetPublicKey }
func (*PublicKey) Type() MessageType        { return MessageTypePublicKey }
func (*ResetDevice) Type() MessageType      { return MessageTypeResetDevice }
func (*PinMatrixRequest) Type() MessageType { return MessageTypePinMatrixRequest }
func (*PinMatrixAck) Type() MessageType     { return MessageTypePinMatrixAck }
func (*ButtonRequest) Type() MessageType    { return MessageTypeButtonRequest }
func (*ButtonAck) Type() MessageType        { return MessageTypeButtonAck }
func (*EntropyRequest) Type() MessageType   { return MessageTypeEntropyRequest }
func (*EntropyAck) Type() MessageType       { return MessageTypeEntropyAck }
func (*WordAck) Type() MessageType          { return MessageTypeWordAck }
func (*CipherKeyValue) Type() MessageType   { return MessageTypeCipherKeyValue }
func (*CipheredKeyValue) Type() MessageType { return MessageTypeCipheredKeyValue }
func (*Cancel) Type() MessageType           { return MessageTypeCancel }
func (*ClearSession) Type() MessageType     { return MessageTypeClearSession }

// IsPinFailure reports whether m is the device rejecting a PIN.
func IsPinFailure(m Message) bool {
	f, ok := m.(*Failure)
	return ok && f.Code == FailurePinInvalid
}
