package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
)

// ConversationList is a live view of one user's conversation list. Any
// message insert or update anywhere, and any conversation insert or
// last_message_at bump, triggers a full reload; events are not filtered by
// relevance.
type ConversationList struct {
	*watcher
	svc    *Service
	userID uuid.UUID
	logger zerolog.Logger

	loadMu sync.Mutex
	mu     sync.RWMutex
	items  []models.ConversationSummary
}

// WatchConversations subscribes to message and conversation changes and
// loads the initial list. A failed load leaves the list empty.
func (s *Service) WatchConversations(ctx context.Context, userID uuid.UUID) (*ConversationList, error) {
	msgs, err := s.feed.Subscribe(ctx, realtime.Filter{
		Table: realtime.TableMessages,
		Ops:   []realtime.Op{realtime.OpInsert, realtime.OpUpdate},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}
	convs, err := s.feed.Subscribe(ctx, realtime.Filter{
		Table: realtime.TableConversations,
		Ops:   []realtime.Op{realtime.OpInsert, realtime.OpUpdate},
	})
	if err != nil {
		msgs.Close()
		return nil, fmt.Errorf("subscribe conversations: %w", err)
	}

	l := &ConversationList{
		watcher: newWatcher(msgs, convs),
		svc:     s,
		userID:  userID,
		logger:  s.logger.With().Str("user_id", userID.String()).Logger(),
		items:   []models.ConversationSummary{},
	}
	l.reload(ctx)
	// Every event reloads, so a dropped event needs no extra resync.
	l.start(func(realtime.ChangeEvent) { l.reload(context.Background()) }, nil)
	return l, nil
}

func (l *ConversationList) reload(ctx context.Context) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	items, err := l.svc.ListConversations(ctx, l.userID)
	if err != nil {
		l.logger.Warn().Err(err).Msg("conversation list reload failed")
		return
	}
	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	l.notify()
}

// Snapshot returns the current list, newest activity first.
func (l *ConversationList) Snapshot() []models.ConversationSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ConversationSummary, len(l.items))
	copy(out, l.items)
	return out
}
