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

// Aggregate groups reaction rows by emoji in first-seen order. The viewer
// flag is set when one of the rows belongs to viewerID; a nil viewer never
// matches.
func Aggregate(rows []models.Reaction, viewerID uuid.UUID) []models.ReactionSummary {
	out := make([]models.ReactionSummary, 0)
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(out)
			index[r.Emoji] = i
			out = append(out, models.ReactionSummary{Emoji: r.Emoji})
		}
		out[i].Count++
		if viewerID != uuid.Nil && r.UserID == viewerID {
			out[i].ViewerHasReacted = true
		}
	}
	return out
}

// ReactionWatch follows the reactions of one message and reloads the whole
// set on every change.
type ReactionWatch struct {
	*watcher
	svc       *Service
	messageID uuid.UUID
	viewerID  uuid.UUID
	logger    zerolog.Logger

	loadMu    sync.Mutex
	mu        sync.RWMutex
	summaries []models.ReactionSummary
}

// WatchReactions subscribes to a message's reactions and loads the current
// summary. The watch stops on Close or when ctx is cancelled.
func (s *Service) WatchReactions(ctx context.Context, messageID, viewerID uuid.UUID) (*ReactionWatch, error) {
	if _, err := s.message(ctx, messageID, viewerID); err != nil {
		return nil, err
	}

	sub, err := s.feed.Subscribe(ctx, realtime.ForMessage(realtime.TableMessageReactions, messageID))
	if err != nil {
		return nil, fmt.Errorf("subscribe reactions: %w", err)
	}

	w := &ReactionWatch{
		watcher:   newWatcher(sub),
		svc:       s,
		messageID: messageID,
		viewerID:  viewerID,
		logger:    s.logger.With().Str("message_id", messageID.String()).Logger(),
		summaries: []models.ReactionSummary{},
	}
	w.reload(ctx)
	w.start(func(realtime.ChangeEvent) { w.reload(context.Background()) }, nil)
	return w, nil
}

func (w *ReactionWatch) reload(ctx context.Context) {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	summaries, err := w.svc.loadReactions(ctx, w.messageID, w.viewerID)
	if err != nil {
		w.logger.Warn().Err(err).Msg("reaction reload failed")
		return
	}
	w.mu.Lock()
	w.summaries = summaries
	w.mu.Unlock()
	w.notify()
}

// Summaries returns the current per-emoji view.
func (w *ReactionWatch) Summaries() []models.ReactionSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.ReactionSummary, len(w.summaries))
	copy(out, w.summaries)
	return out
}

// MessageID returns the watched message.
func (w *ReactionWatch) MessageID() uuid.UUID {
	return w.messageID
}

// Toggle flips the viewer's reaction and refreshes the summary.
func (w *ReactionWatch) Toggle(ctx context.Context, emoji string) (bool, error) {
	present, err := w.svc.ToggleReaction(ctx, w.messageID, w.viewerID, emoji)
	if err != nil {
		return false, err
	}
	w.reload(ctx)
	return present, nil
}
