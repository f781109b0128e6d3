// Package event defines the realtime event union and its wire envelope.
// New event kinds must be added to the union; the service matches it
// exhaustively and never switches on raw strings.
package event

import (
	"time"

	"chat-sync/domain"
)

// RealtimeEvent is the closed union of events delivered over the
// realtime channel. Sequence numbers are monotonic per room; no
// cross-room ordering is implied.
type RealtimeEvent interface {
	RoomID() string
	Seq() uint64
}

// NewMessage announces a message posted to a room. For the sender's own
// messages the payload echoes the originating clientMsgId in Message.ID
// and carries the server-assigned id in Message.ServerID.
type NewMessage struct {
	Room     string
	Sequence uint64
	Message  domain.Message
}

func (e NewMessage) RoomID() string { return e.Room }
func (e NewMessage) Seq() uint64    { return e.Sequence }

// MessageRead announces that a participant read a message.
type MessageRead struct {
	Room      string
	Sequence  uint64
	MessageID string
	ReaderID  string
	ReadAt    time.Time
}

func (e MessageRead) RoomID() string { return e.Room }
func (e MessageRead) Seq() uint64    { return e.Sequence }

// Typing announces a participant's typing indicator. Never persisted.
type Typing struct {
	Room     string
	Sequence uint64
	UserID   string
	IsTyping bool
}

func (e Typing) RoomID() string { return e.Room }
func (e Typing) Seq() uint64    { return e.Sequence }

// Presence announces a participant going online or offline. Never persisted.
type Presence struct {
	Room     string
	Sequence uint64
	UserID   string
	Online   bool
}

func (e Presence) RoomID() string { return e.Room }
func (e Presence) Seq() uint64    { return e.Sequence }
