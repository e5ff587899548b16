package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

// MaxContentBytes bounds a single message.
const MaxContentBytes = 4096

// Service implements conversation listing, threads and reactions on top of a
// DataStore. Writes made through the store are expected to reach feed, which
// is the case when the store is a store.FeedStore publishing to it.
type Service struct {
	store  store.DataStore
	feed   realtime.Feed
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a messaging service.
func NewService(ds store.DataStore, feed realtime.Feed, logger zerolog.Logger) *Service {
	return &Service{
		store:  ds,
		feed:   feed,
		logger: logger.With().Str("component", "messaging").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying data store.
func (s *Service) Store() store.DataStore {
	return s.store
}

// ListConversations returns userID's private conversations, newest activity
// first. The global conversation is never included.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	if userID == uuid.Nil {
		return []models.ConversationSummary{}, nil
	}
	list, err := s.store.ListConversationSummaries(ctx, userID, config.GlobalConversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

// ResolveConversation returns the private conversation between userID and
// targetID, creating it when none exists.
func (s *Service) ResolveConversation(ctx context.Context, userID, targetID uuid.UUID) (*models.Conversation, bool, error) {
	if userID == uuid.Nil {
		return nil, false, ErrUnauthenticated
	}
	if userID == targetID {
		return nil, false, ErrSelfConversation
	}
	target, err := s.store.GetProfile(ctx, targetID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup target: %w", err)
	}
	if target == nil {
		return nil, false, ErrProfileNotFound
	}

	conv, created, err := s.store.ResolveConversation(ctx, userID, targetID, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("resolve conversation: %w", err)
	}
	outcome := "existing"
	if created {
		outcome = "created"
		s.logger.Info().
			Str("conversation_id", conv.ID.String()).
			Str("user_id", userID.String()).
			Str("target_id", targetID.String()).
			Msg("conversation created")
	}
	metrics.ConversationsResolved.WithLabelValues(outcome).Inc()
	return conv, created, nil
}

// authorize checks that userID may read and write the conversation. Every
// authenticated user may use the global conversation.
func (s *Service) authorize(ctx context.Context, conversationID, userID uuid.UUID) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if conversationID == config.GlobalConversationID {
		return nil
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// LoadThread marks the viewer's incoming messages read and returns the
// conversation's messages in ascending order. Mark-read failures are logged
// and do not fail the load. Without a viewer the load is a no-op.
func (s *Service) LoadThread(ctx context.Context, conversationID, viewerID uuid.UUID) ([]models.ThreadMessage, error) {
	if viewerID == uuid.Nil {
		return []models.ThreadMessage{}, nil
	}
	if err := s.authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if conversationID != config.GlobalConversationID {
		s.markRead(ctx, conversationID, viewerID)
	}
	thread, err := s.store.ListThread(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return thread, nil
}

// markRead runs the two independent read-receipt statements.
func (s *Service) markRead(ctx context.Context, conversationID, viewerID uuid.UUID) {
	log := s.logger.With().
		Str("conversation_id", conversationID.String()).
		Str("user_id", viewerID.String()).
		Logger()

	if _, err := s.store.MarkConversationRead(ctx, conversationID, viewerID); err != nil {
		log.Warn().Err(err).Msg("mark conversation read failed")
	}
	if err := s.store.MarkParticipantRead(ctx, conversationID, viewerID, s.now()); err != nil {
		log.Warn().Err(err).Msg("update last_read_at failed")
	}
}

// SendMessage stores a message from senderID and bumps the conversation's
// last_message_at. Content is trimmed; empty content is rejected without
// touching the store.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.ThreadMessage, error) {
	if senderID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > MaxContentBytes {
		return nil, ErrMessageTooLong
	}
	if err := s.authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsRead:         false,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	if err := s.store.TouchConversation(ctx, conversationID, msg.CreatedAt); err != nil {
		s.logger.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("failed to update last_message_at")
	}

	kind := "private"
	if conversationID == config.GlobalConversationID {
		kind = "global"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	return &models.ThreadMessage{Message: *msg, SenderName: s.displayName(ctx, senderID)}, nil
}

// displayName looks up a user's name, falling back to the unknown-user label.
func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Debug().Err(err).Str("user_id", userID.String()).Msg("profile lookup failed")
	}
	if p == nil {
		return models.UnknownUserName
	}
	return p.DisplayName
}

// message fetches a message and checks the viewer may see it. A nil viewer
// skips the participant check.
func (s *Service) message(ctx context.Context, messageID, viewerID uuid.UUID) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("lookup message: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if viewerID != uuid.Nil {
		if err := s.authorize(ctx, msg.ConversationID, viewerID); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Reactions returns the per-emoji summary of a message for viewerID.
func (s *Service) Reactions(ctx context.Context, messageID, viewerID uuid.UUID) ([]models.ReactionSummary, error) {
	if _, err := s.message(ctx, messageID, viewerID); err != nil {
		return nil, err
	}
	return s.loadReactions(ctx, messageID, viewerID)
}

func (s *Service) loadReactions(ctx context.Context, messageID, viewerID uuid.UUID) ([]models.ReactionSummary, error) {
	rows, err := s.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return Aggregate(rows, viewerID), nil
}

// ToggleReaction flips viewerID's reaction with emoji on a message and
// reports whether the reaction is present afterwards. A nil viewer is a
// no-op.
func (s *Service) ToggleReaction(ctx context.Context, messageID, viewerID uuid.UUID, emoji string) (bool, error) {
	if viewerID == uuid.Nil {
		return false, nil
	}
	if !IsValidEmoji(emoji) {
		return false, ErrUnknownEmoji
	}
	if _, err := s.message(ctx, messageID, viewerID); err != nil {
		return false, err
	}

	_, present, err := s.store.ToggleReaction(ctx, messageID, viewerID, emoji, s.now())
	if err != nil {
		return false, fmt.Errorf("toggle reaction: %w", err)
	}
	action := "removed"
	if present {
		action = "added"
	}
	metrics.ReactionsToggled.WithLabelValues(action).Inc()
	return present, nil
}

// AllConversations lists every conversation for oversight.
func (s *Service) AllConversations(ctx context.Context, limit, offset int) ([]models.ConversationWithParticipants, int, error) {
	return s.store.ListAllConversations(ctx, limit, offset)
}
