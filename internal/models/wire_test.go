package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWireMessage_FlatFields(t *testing.T) {
	data := []byte(`{"id":"m1","sender":"u1","receiver":"u2","content":"hello","createdAt":"2026-08-30T10:00:00Z"}`)

	msg, err := DecodeWireMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Receiver)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, StatusSent, msg.Status)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), msg.CreatedAt)
}

func TestDecodeWireMessage_AlternateFieldNames(t *testing.T) {
	data := []byte(`{"_id":"m2","senderId":"u1","recipientId":"u2","text":"alt","timestamp":"2026-08-30T10:00:00Z"}`)

	msg, err := DecodeWireMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "m2", msg.ID)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Receiver)
	assert.Equal(t, "alt", msg.Content)
}

func TestDecodeWireMessage_MongoOID(t *testing.T) {
	data := []byte(`{"_id":{"$oid":"68b1c2d3"},"from":"u1","to":"u2","message":"nested id"}`)

	msg, err := DecodeWireMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "68b1c2d3", msg.ID)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Receiver)
	assert.Equal(t, "nested id", msg.Content)
}

func TestDecodeWireMessage_NumericID(t *testing.T) {
	data := []byte(`{"id":42,"content":"numeric"}`)

	msg, err := DecodeWireMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)
}

func TestDecodeWireMessage_NestedMessageObject(t *testing.T) {
	data := []byte(`{"message":{"id":"m3","sender":"u1","receiver":"u2","content":"wrapped"}}`)

	msg, err := DecodeWireMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "m3", msg.ID)
	assert.Equal(t, "wrapped", msg.Content)
}

func TestDecodeWireMessage_Invalid(t *testing.T) {
	_, err := DecodeWireMessage([]byte(`<html>error page</html>`))
	assert.Error(t, err)
}

func TestDecodeWireMessages_BareArray(t *testing.T) {
	data := []byte(`[{"id":"m1","content":"a"},{"id":"m2","content":"b"}]`)

	msgs, err := DecodeWireMessages(data)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)
}

func TestDecodeWireMessages_Envelopes(t *testing.T) {
	for _, key := range []string{"messages", "data", "conversation"} {
		data := []byte(`{"` + key + `":[{"id":"m1","content":"wrapped"}]}`)

		msgs, err := DecodeWireMessages(data)
		require.NoError(t, err, key)
		require.Len(t, msgs, 1, key)
		assert.Equal(t, "wrapped", msgs[0].Content, key)
	}
}

func TestDecodeWireMessages_EmptyEnvelopeList(t *testing.T) {
	msgs, err := DecodeWireMessages([]byte(`{"messages":[]}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDecodeWireMessages_UnknownEnvelope(t *testing.T) {
	_, err := DecodeWireMessages([]byte(`{"items":[]}`))
	assert.Error(t, err)

	_, err = DecodeWireMessages([]byte(``))
	assert.Error(t, err)
}

func TestMessageQueued(t *testing.T) {
	m := Message{Status: StatusQueuedOffline}
	assert.True(t, m.Queued())

	m.Status = StatusSent
	assert.False(t, m.Queued())
}

func TestExpandRoute(t *testing.T) {
	cand := EndpointCandidate{Route: "/api/messages/conversation/{peer}"}
	assert.Equal(t, "/api/messages/conversation/u2", cand.ExpandRoute(map[string]string{"peer": "u2"}))
	assert.Equal(t, "/api/messages/conversation/{peer}", cand.ExpandRoute(nil))
}

func TestExpandRoute_EscapesForPosition(t *testing.T) {
	path := EndpointCandidate{Route: "/api/messages/conversation/{peer}"}
	assert.Equal(t, "/api/messages/conversation/a%2Fb", path.ExpandRoute(map[string]string{"peer": "a/b"}))

	query := EndpointCandidate{Route: "/api/messages?with={peer}"}
	assert.Equal(t, "/api/messages?with=a%26b%2Bc", query.ExpandRoute(map[string]string{"peer": "a&b+c"}))

	// A '+' must not survive literally in a query value, where it would
	// decode as a space server-side.
	assert.NotContains(t, query.ExpandRoute(map[string]string{"peer": "x+y"}), "+y")
}
