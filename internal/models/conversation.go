package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a private thread between two participants, or the global
// broadcast conversation.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Participant is a (conversation, user) membership row.
type Participant struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

// LastMessage is the preview of the newest message in a conversation.
type LastMessage struct {
	ID        uuid.UUID `json:"id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID            uuid.UUID     `json:"id"`
	Other         PublicProfile `json:"other"`
	LastMessage   *LastMessage  `json:"last_message"`
	UnreadCount   int           `json:"unread_count"`
	LastMessageAt time.Time     `json:"last_message_at"`
}

// ConversationWithParticipants is used by admin listings.
type ConversationWithParticipants struct {
	Conversation
	Participants []uuid.UUID `json:"participants"`
	MessageCount int64       `json:"message_count"`
}

// PairKey returns the order-independent key identifying the private
// conversation between a and b.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
