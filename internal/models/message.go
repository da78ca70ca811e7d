package models

import (
	"time"
)

type MessageStatus string

const (
	StatusPending       MessageStatus = "pending"
	StatusSent          MessageStatus = "sent"
	StatusQueuedOffline MessageStatus = "queued-offline"
	StatusFailed        MessageStatus = "failed"
)

// Message is the canonical direct message, regardless of which backend
// shape it travelled in. The ID is server-assigned once delivered; while
// queued offline it carries a client-assigned id with the local prefix.
type Message struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	Receiver  string        `json:"receiver"`
	Content   string        `json:"content"`
	Subject   string        `json:"subject,omitempty"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Queued reports whether the message is sitting in the offline queue.
func (m *Message) Queued() bool {
	return m.Status == StatusQueuedOffline
}
