package domain

import (
	"time"

	"github.com/samber/lo"
)

// Chat is a conversation entity, one-to-one or group.
// Participants hold unique user ids; UnreadCount counts messages not yet
// read by the viewing user since their last read marker.
type Chat struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	IsGroup       bool      `json:"isGroup"`
	Participants  []string  `json:"participants"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// WithParticipant returns a copy of the chat including userID.
// Adding an existing participant is a no-op copy.
func (c Chat) WithParticipant(userID string) Chat {
	if c.HasParticipant(userID) {
		return c
	}
	c.Participants = append(append([]string(nil), c.Participants...), userID)
	return c
}

// WithoutParticipant returns a copy of the chat excluding userID.
func (c Chat) WithoutParticipant(userID string) Chat {
	c.Participants = lo.Filter(c.Participants, func(id string, _ int) bool {
		return id != userID
	})
	return c
}
