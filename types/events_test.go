package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeFor(t *testing.T) {
	testcases := []struct {
		msg  Message
		want MessageEventType
	}{
		{&Features{}, EventFeatures},
		{&PublicKey{}, EventPublicKey},
		{&PinMatrixRequest{}, EventPinMatrixRequest},
		{&ButtonRequest{}, EventButtonRequest},
		{&EntropyRequest{}, EventEntropyRequest},
		{&CipheredKeyValue{}, EventCipheredKeyValue},
		{&Success{}, EventSuccess},
		{&Failure{}, EventFailure},
		// requests are never published as replies
		{&Initialize{}, EventUnknown},
		{&WordAck{}, EventUnknown},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.want, EventTypeFor(tc.msg), "%T", tc.msg)
	}
}

func TestMessageEventJSON(t *testing.T) {
	ev := NewMessageEvent(&ButtonRequest{Code: ButtonRequestConfirmWord, Data: "3"})
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"BUTTON_REQUEST","payload":{"code":5,"data":"3"}}`, string(b))

	b, err = json.Marshal(MessageEvent{Type: EventDeviceConnected})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"DEVICE_CONNECTED"}`, string(b))
}

func TestMessageEventTypeText(t *testing.T) {
	var et MessageEventType
	require.NoError(t, et.UnmarshalText([]byte("ENTROPY_REQUEST")))
	assert.Equal(t, EventEntropyRequest, et)
	assert.Error(t, et.UnmarshalText([]byte("NOPE")))
	assert.Equal(t, "MessageEventType(99)", MessageEventType(99).String())
}

func TestIsPinFailure(t *testing.T) {
	assert.True(t, IsPinFailure(&Failure{Code: FailurePinInvalid}))
	assert.False(t, IsPinFailure(&Failure{Code: FailureOther}))
	assert.False(t, IsPinFailure(&Success{}))
}
