package models

import (
	"time"

	"github.com/google/uuid"
)

// UnknownUserName is shown when a participant has no profile row.
const UnknownUserName = "Unknown user"

// Profile is the public identity of a registered user.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	PublicKey   string    `json:"public_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// PublicProfile is the subset of a profile rendered next to conversations.
type PublicProfile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}
