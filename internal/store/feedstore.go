package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
)

// readReceipt is the row published when a reader bulk-marks a conversation.
type readReceipt struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ReaderID       uuid.UUID `json:"reader_id"`
	Updated        int64     `json:"updated"`
}

// FeedStore wraps a DataStore and publishes a change event after every
// committed write. Publish failures are logged; the write stands.
type FeedStore struct {
	DataStore
	feed   realtime.Publisher
	logger zerolog.Logger
}

// NewFeedStore decorates inner with change publication.
func NewFeedStore(inner DataStore, feed realtime.Publisher, logger zerolog.Logger) *FeedStore {
	return &FeedStore{DataStore: inner, feed: feed, logger: logger}
}

func (s *FeedStore) publish(ctx context.Context, table string, op realtime.Op, convID, msgID uuid.UUID, row any) {
	ev, err := realtime.NewEvent(table, op, convID, msgID, row)
	if err == nil {
		err = s.feed.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("table", table).
			Str("op", string(op)).
			Msg("change event not published")
	}
}

// ResolveConversation publishes a conversations INSERT when a new
// conversation was created.
func (s *FeedStore) ResolveConversation(ctx context.Context, a, b uuid.UUID, now time.Time) (*models.Conversation, bool, error) {
	conv, created, err := s.DataStore.ResolveConversation(ctx, a, b, now)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.publish(ctx, realtime.TableConversations, realtime.OpInsert, conv.ID, uuid.Nil, conv)
	}
	return conv, created, nil
}

// TouchConversation publishes a conversations UPDATE.
func (s *FeedStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.DataStore.TouchConversation(ctx, id, at); err != nil {
		return err
	}
	s.publish(ctx, realtime.TableConversations, realtime.OpUpdate, id, uuid.Nil, map[string]any{
		"id":              id,
		"last_message_at": at,
	})
	return nil
}

// CreateMessage publishes a messages INSERT carrying the stored row.
func (s *FeedStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := s.DataStore.CreateMessage(ctx, msg); err != nil {
		return err
	}
	s.publish(ctx, realtime.TableMessages, realtime.OpInsert, msg.ConversationID, msg.ID, msg)
	return nil
}

// MarkConversationRead publishes one messages UPDATE when rows changed.
func (s *FeedStore) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	n, err := s.DataStore.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil || n == 0 {
		return n, err
	}
	s.publish(ctx, realtime.TableMessages, realtime.OpUpdate, conversationID, uuid.Nil, readReceipt{
		ConversationID: conversationID,
		ReaderID:       readerID,
		Updated:        n,
	})
	return n, nil
}

// MarkMessageRead publishes a messages UPDATE with the updated row.
func (s *FeedStore) MarkMessageRead(ctx context.Context, id uuid.UUID) (bool, error) {
	changed, err := s.DataStore.MarkMessageRead(ctx, id)
	if err != nil || !changed {
		return changed, err
	}
	msg, err := s.DataStore.GetMessage(ctx, id)
	if err != nil || msg == nil {
		s.logger.Warn().Err(err).Str("message_id", id.String()).Msg("read message not found for publish")
		return changed, nil
	}
	s.publish(ctx, realtime.TableMessages, realtime.OpUpdate, msg.ConversationID, msg.ID, msg)
	return changed, nil
}

// ToggleReaction publishes a message_reactions INSERT or DELETE.
func (s *FeedStore) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string, now time.Time) (*models.Reaction, bool, error) {
	r, present, err := s.DataStore.ToggleReaction(ctx, messageID, userID, emoji, now)
	if err != nil {
		return nil, false, err
	}
	op := realtime.OpDelete
	if present {
		op = realtime.OpInsert
	}
	s.publish(ctx, realtime.TableMessageReactions, op, uuid.Nil, messageID, r)
	return r, present, nil
}
