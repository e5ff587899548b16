package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
)

// Thread is a viewer's open conversation. It subscribes to message inserts
// before loading history, so a message committed in between is seen exactly
// once: messages are keyed by id and duplicates are dropped.
type Thread struct {
	*watcher
	svc            *Service
	conversationID uuid.UUID
	viewerID       uuid.UUID
	logger         zerolog.Logger
	sending        atomic.Bool

	mu       sync.RWMutex
	messages []models.ThreadMessage
	seen     map[uuid.UUID]struct{}
}

// OpenThread authorizes the viewer, subscribes to the conversation's message
// inserts and loads its history, marking incoming messages read.
func (s *Service) OpenThread(ctx context.Context, conversationID, viewerID uuid.UUID) (*Thread, error) {
	if err := s.authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	sub, err := s.feed.Subscribe(ctx, realtime.ForConversation(realtime.TableMessages, conversationID, realtime.OpInsert))
	if err != nil {
		return nil, fmt.Errorf("subscribe thread: %w", err)
	}

	t := &Thread{
		watcher:        newWatcher(sub),
		svc:            s,
		conversationID: conversationID,
		viewerID:       viewerID,
		logger: s.logger.With().
			Str("conversation_id", conversationID.String()).
			Str("user_id", viewerID.String()).
			Logger(),
		messages: []models.ThreadMessage{},
		seen:     make(map[uuid.UUID]struct{}),
	}

	history, err := s.LoadThread(ctx, conversationID, viewerID)
	if err != nil {
		t.logger.Warn().Err(err).Msg("thread load failed")
	}
	for _, m := range history {
		t.add(m)
	}

	t.start(t.handle, t.resync)
	return t, nil
}

// add appends m unless its id is already present.
func (t *Thread) add(m models.ThreadMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

func (t *Thread) has(id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[id]
	return ok
}

// handle applies one message insert. Rows that do not decode are dropped.
func (t *Thread) handle(ev realtime.ChangeEvent) {
	var msg models.Message
	if err := ev.DecodeRow(&msg); err != nil || msg.ID == uuid.Nil {
		t.logger.Debug().Err(err).Str("event_id", ev.ID).Msg("dropping malformed message event")
		return
	}
	if msg.ConversationID != t.conversationID || t.has(msg.ID) {
		return
	}

	ctx := context.Background()
	if msg.SenderID != t.viewerID && t.conversationID != config.GlobalConversationID {
		if _, err := t.svc.store.MarkMessageRead(ctx, msg.ID); err != nil {
			t.logger.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("auto mark-read failed")
		} else {
			msg.IsRead = true
		}
	}

	if t.add(models.ThreadMessage{Message: msg, SenderName: t.svc.displayName(ctx, msg.SenderID)}) {
		t.notify()
	}
}

// resync reloads the stored thread after the feed dropped events and merges
// it with what is already shown. Stored messages come first in thread order;
// local messages the load did not return are kept after them.
func (t *Thread) resync() {
	t.logger.Warn().Msg("thread missed feed events, reloading")
	history, err := t.svc.LoadThread(context.Background(), t.conversationID, t.viewerID)
	if err != nil {
		t.logger.Warn().Err(err).Msg("thread reload failed")
		return
	}

	t.mu.Lock()
	merged := make([]models.ThreadMessage, 0, len(history)+len(t.messages))
	seen := make(map[uuid.UUID]struct{}, len(history)+len(t.messages))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range t.messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	t.messages = merged
	t.seen = seen
	t.mu.Unlock()
	t.notify()
}

// Messages returns the thread in order of arrival, history first.
func (t *Thread) Messages() []models.ThreadMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ThreadMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// ConversationID returns the conversation this thread shows.
func (t *Thread) ConversationID() uuid.UUID {
	return t.conversationID
}

// Send posts content as the viewer. Empty content and a send while another
// is still running are rejected without touching the store. On success the
// message is added locally; the matching feed event is then ignored.
func (t *Thread) Send(ctx context.Context, content string) (*models.ThreadMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if !t.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer t.sending.Store(false)

	msg, err := t.svc.SendMessage(ctx, t.conversationID, t.viewerID, content)
	if err != nil {
		return nil, err
	}
	if t.add(*msg) {
		t.notify()
	}
	return msg, nil
}
