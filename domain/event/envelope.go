package event

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-sync/domain"
	syncerr "chat-sync/errors"
)

// Envelope is the inbound wire frame. Field names are fixed by the
// remote protocol and must not change.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	Sequence uint64          `json:"sequence"`
	Payload  json.RawMessage `json:"payload"`
}

// Outbound is the frame sent for a message submission.
type Outbound struct {
	ClientMsgID string             `json:"clientMsgId"`
	RoomID      string             `json:"roomId"`
	Content     string             `json:"content"`
	Type        domain.MessageType `json:"type"`
}

// Subscribe is the room subscription frame, acked by the server with a
// frame of type "subscribed".
type Subscribe struct {
	Action string `json:"action"`
	RoomID string `json:"roomId"`
}

// Frame type tags of the inbound protocol.
const (
	TypeNewMessage  = "NewMessage"
	TypeMessageRead = "MessageRead"
	TypeTyping      = "Typing"
	TypePresence    = "Presence"
	TypeSubscribed  = "subscribed"
)

// NewSubscribe builds the subscription frame for a room.
func NewSubscribe(roomID string) Subscribe {
	return Subscribe{Action: "subscribe", RoomID: roomID}
}

type readPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type typingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Decode parses an envelope into a union member. A malformed frame or an
// unknown type tag yields an error wrapping ErrSerialization: the caller
// logs it, drops the single frame and keeps the stream alive.
func Decode(env Envelope) (RealtimeEvent, error) {
	switch env.Type {
	case TypeNewMessage:
		var msg domain.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: NewMessage payload: %v", syncerr.ErrSerialization, err)
		}
		return NewMessage{Room: env.RoomID, Sequence: env.Sequence, Message: msg}, nil
	case TypeMessageRead:
		var p readPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: MessageRead payload: %v", syncerr.ErrSerialization, err)
		}
		return MessageRead{
			Room: env.RoomID, Sequence: env.Sequence,
			MessageID: p.MessageID, ReaderID: p.UserID, ReadAt: p.ReadAt,
		}, nil
	case TypeTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: Typing payload: %v", syncerr.ErrSerialization, err)
		}
		return Typing{Room: env.RoomID, Sequence: env.Sequence, UserID: p.UserID, IsTyping: p.IsTyping}, nil
	case TypePresence:
		var p presencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: Presence payload: %v", syncerr.ErrSerialization, err)
		}
		return Presence{Room: env.RoomID, Sequence: env.Sequence, UserID: p.UserID, Online: p.Online}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", syncerr.ErrSerialization, env.Type)
	}
}
