// Package domain contains core concepts of the chat synchronization layer.
// Messages and chats are plain values; all mutation goes through the
// service and the status tracker.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates message content on the wire.
type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	FileMessage  MessageType = "file"
	EventUpdate  MessageType = "eventUpdate"
	SystemNotice MessageType = "system"
)

// MessageStatus is the delivery state of a message. Statuses form a total
// order Pending < Sent < Delivered < Read used to reject regressions;
// Failed sits outside the order and is reachable only from Pending.
type MessageStatus int

const (
	StatusPending MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

var statusNames = map[MessageStatus]string{
	StatusPending:   "pending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
	StatusFailed:    "failed",
}

func (s MessageStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Rank returns the position of s in the delivery order.
// Failed has no rank and never compares ahead of a delivery state.
func (s MessageStatus) Rank() int {
	if s == StatusFailed {
		return -1
	}
	return int(s)
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown message status %d", int(s))
	}
	return json.Marshal(name)
}

func (s *MessageStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown message status %q", name)
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single content unit within a chat.
//
// ID is generated on the sending client at creation time and acts as the
// idempotency key: it never changes, no matter how many times the message
// is retried or delivered. ServerID is assigned by the remote service once
// the message is acknowledged as Sent and is used to correlate later
// Delivered/Read transitions.
type Message struct {
	ID        string        `json:"id"`
	ServerID  string        `json:"serverId,omitempty"`
	ChatID    string        `json:"chatId"`
	SenderID  string        `json:"senderId"`
	Content   string        `json:"content"`
	Type      MessageType   `json:"messageType"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	ReadBy    []ReadReceipt `json:"readBy,omitempty"`
	// RetryOf links a resend to the failed message it replaces,
	// so the UI can group both under one bubble.
	RetryOf string `json:"retryOf,omitempty"`
	// FailReason explains a Failed status to the caller.
	FailReason string `json:"-"`
}

// Before reports whether m sorts ahead of other in a chat timeline.
// Ordering is by CreatedAt, ties broken by ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// IsReadBy reports whether userID already holds a read receipt on m.
func (m Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
