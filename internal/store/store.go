package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// DataStore defines the persistent storage of profiles, conversations,
// messages and reactions. PostgresStore, SQLiteStore and MemoryStore
// implement it.
//
// Lookups of a single row return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Profile operations
	CreateProfile(ctx context.Context, publicKey, displayName, avatarURL string) (*models.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfileByPublicKey(ctx context.Context, publicKey string) (*models.Profile, error)
	CountProfiles(ctx context.Context) (int64, error)

	// Conversation operations
	//
	// ResolveConversation returns the private conversation between a and b,
	// creating it together with both participant rows when none exists.
	// The bool reports whether a new conversation was created.
	ResolveConversation(ctx context.Context, a, b uuid.UUID, now time.Time) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkParticipantRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	// ListConversationSummaries computes the conversation list of userID in
	// one query, newest activity first, skipping excludeID.
	ListConversationSummaries(ctx context.Context, userID, excludeID uuid.UUID) ([]models.ConversationSummary, error)
	ListAllConversations(ctx context.Context, limit, offset int) ([]models.ConversationWithParticipants, int, error)
	CountConversations(ctx context.Context) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// ListThread returns a conversation's messages in ascending creation order.
	ListThread(ctx context.Context, conversationID uuid.UUID) ([]models.ThreadMessage, error)
	// ListRecentMessages returns up to limit newest messages, newest first.
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ThreadMessage, error)
	// MarkConversationRead flips is_read on every unread message of the
	// conversation not sent by readerID and returns the number of rows changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error)
	MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error)
	CountMessages(ctx context.Context) (int64, error)
	GetMostRecentActivity(ctx context.Context) (*time.Time, error)

	// Reaction operations
	ListReactions(ctx context.Context, messageID uuid.UUID) ([]models.Reaction, error)
	// ToggleReaction deletes the (message, user, emoji) row when present and
	// inserts it otherwise, atomically. It returns the affected row and
	// whether the reaction is present afterwards.
	ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, now time.Time) (*models.Reaction, bool, error)
}

// newID returns a UUID v7 so that row ids sort in insertion order.
func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
