package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single chat message inside a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ThreadMessage is a message joined with its sender's display name.
type ThreadMessage struct {
	Message
	SenderName string `json:"sender_name"`
}
