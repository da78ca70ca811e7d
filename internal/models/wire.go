package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// The backend's wire schema is not under our control: different deployments
// return different field names ("content" vs "message"), different id
// encodings (flat string vs {"$oid": ...}), and different envelopes (bare
// object, bare array, or a wrapper key). The decoders below accept every
// variant the catalog's payload shapes can provoke.

// wireID accepts "abc", 123, and {"$oid": "abc"}.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireID(s)
	case '{':
		var oid struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(data, &oid); err != nil {
			return err
		}
		*w = wireID(oid.OID)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*w = wireID(n.String())
	}
	return nil
}

type wireMessage struct {
	ID          wireID          `json:"id"`
	MongoID     wireID          `json:"_id"`
	Sender      wireID          `json:"sender"`
	SenderID    wireID          `json:"senderId"`
	From        wireID          `json:"from"`
	Receiver    wireID          `json:"receiver"`
	RecipientID wireID          `json:"recipientId"`
	To          wireID          `json:"to"`
	Content     string          `json:"content"`
	Text        string          `json:"text"`
	RawMessage  json.RawMessage `json:"message"`
	Subject     string          `json:"subject"`
	CreatedAt   string          `json:"createdAt"`
	Timestamp   string          `json:"timestamp"`
}

func (w *wireMessage) toMessage() (*Message, error) {
	msg := &Message{
		ID:       firstNonEmpty(string(w.ID), string(w.MongoID)),
		Sender:   firstNonEmpty(string(w.Sender), string(w.SenderID), string(w.From)),
		Receiver: firstNonEmpty(string(w.Receiver), string(w.RecipientID), string(w.To)),
		Content:  firstNonEmpty(w.Content, w.Text),
		Subject:  w.Subject,
		Status:   StatusSent,
	}

	// "message" is either the content string or a nested message object.
	if msg.Content == "" && len(w.RawMessage) > 0 {
		trimmed := bytes.TrimSpace(w.RawMessage)
		switch trimmed[0] {
		case '"':
			if err := json.Unmarshal(trimmed, &msg.Content); err != nil {
				return nil, fmt.Errorf("failed to decode message field: %w", err)
			}
		case '{':
			var nested wireMessage
			if err := json.Unmarshal(trimmed, &nested); err != nil {
				return nil, fmt.Errorf("failed to decode nested message: %w", err)
			}
			return nested.toMessage()
		}
	}

	if ts := firstNonEmpty(w.CreatedAt, w.Timestamp); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.CreatedAt = parsed
		}
	}

	return msg, nil
}

// DecodeWireMessage parses a single message from an arbitrary backend
// response body.
func DecodeWireMessage(data []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode message body: %w", err)
	}
	return wire.toMessage()
}

// DecodeWireMessages parses a message list from either a bare JSON array or
// a wrapper object ("messages", "data", or "conversation").
func DecodeWireMessages(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var wires []wireMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wires); err != nil {
			return nil, fmt.Errorf("failed to decode message list: %w", err)
		}
	} else {
		var envelope struct {
			Messages     []wireMessage `json:"messages"`
			Data         []wireMessage `json:"data"`
			Conversation []wireMessage `json:"conversation"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode message envelope: %w", err)
		}
		switch {
		case envelope.Messages != nil:
			wires = envelope.Messages
		case envelope.Data != nil:
			wires = envelope.Data
		case envelope.Conversation != nil:
			wires = envelope.Conversation
		default:
			return nil, fmt.Errorf("no message list found in envelope")
		}
	}

	result := make([]Message, 0, len(wires))
	for i := range wires {
		msg, err := wires[i].toMessage()
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
