package models

import (
	"time"

	"github.com/google/uuid"
)

// Reaction is one (message, user, emoji) membership row.
// At most one row exists per triple.
type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionSummary is the per-emoji view of a message's reactions.
type ReactionSummary struct {
	Emoji            string `json:"emoji"`
	Count            int    `json:"count"`
	ViewerHasReacted bool   `json:"viewer_has_reacted"`
}
