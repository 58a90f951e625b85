package paystack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"r1"}}`)
	sig := Sign("sk_test", body)

	assert.True(t, VerifySignature("sk_test", body, sig))
	assert.False(t, VerifySignature("sk_other", body, sig))
	assert.False(t, VerifySignature("sk_test", []byte(`{"event":"charge.success"}`), sig))
	assert.False(t, VerifySignature("sk_test", body, ""))
	assert.False(t, VerifySignature("sk_test", body, "not-hex"))
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"charge.success","data":{"reference":"r1","status":"success"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, ev.Type)
	assert.Equal(t, "r1", ev.Reference)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
