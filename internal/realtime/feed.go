// Package realtime is the row-level change feed. Writers publish a
// ChangeEvent after a successful store mutation; readers subscribe with a
// Filter and receive matching events until they close the subscription or
// cancel its context.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Table names carried by change events.
const (
	TableConversations    = "conversations"
	TableMessages         = "messages"
	TableMessageReactions = "message_reactions"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ErrClosed is returned when publishing to or subscribing on a closed feed.
var ErrClosed = errors.New("change feed closed")

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	ID             string          `json:"id"`
	Table          string          `json:"table"`
	Op             Op              `json:"op"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	MessageID      uuid.UUID       `json:"message_id"`
	Row            json.RawMessage `json:"row,omitempty"`
	CommittedAt    time.Time       `json:"committed_at"`
}

// NewEvent builds an event with a fresh ULID and the row encoded as JSON.
func NewEvent(table string, op Op, conversationID, messageID uuid.UUID, row any) (ChangeEvent, error) {
	ev := ChangeEvent{
		ID:             ulid.Make().String(),
		Table:          table,
		Op:             op,
		ConversationID: conversationID,
		MessageID:      messageID,
		CommittedAt:    time.Now().UTC(),
	}
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Row = data
	}
	return ev, nil
}

// DecodeRow unmarshals the event row into v.
func (e ChangeEvent) DecodeRow(v any) error {
	if len(e.Row) == 0 {
		return errors.New("event has no row")
	}
	return json.Unmarshal(e.Row, v)
}

// Filter selects events by table and, optionally, by one key column.
// The zero Column matches every row of the table.
type Filter struct {
	Table  string
	Column string
	Value  uuid.UUID
	Ops    []Op
}

// ForConversation matches rows of table whose conversation_id is id.
func ForConversation(table string, id uuid.UUID, ops ...Op) Filter {
	return Filter{Table: table, Column: "conversation_id", Value: id, Ops: ops}
}

// ForMessage matches rows of table whose message_id is id.
func ForMessage(table string, id uuid.UUID, ops ...Op) Filter {
	return Filter{Table: table, Column: "message_id", Value: id, Ops: ops}
}

// ParseFilter parses the "column=eq.value" row filter syntax.
func ParseFilter(table, expr string) (Filter, error) {
	f := Filter{Table: table}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return f, nil
	}
	column, rest, ok := strings.Cut(expr, "=eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter %q", expr)
	}
	switch column {
	case "conversation_id", "message_id":
	default:
		return Filter{}, fmt.Errorf("unsupported filter column %q", column)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return Filter{}, fmt.Errorf("invalid filter value: %w", err)
	}
	f.Column = column
	f.Value = id
	return f, nil
}

// String renders the filter in "table:column=eq.value" form.
func (f Filter) String() string {
	if f.Column == "" {
		return f.Table
	}
	return fmt.Sprintf("%s:%s=eq.%s", f.Table, f.Column, f.Value)
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if len(f.Ops) > 0 {
		found := false
		for _, op := range f.Ops {
			if op == ev.Op {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch f.Column {
	case "":
		return true
	case "conversation_id":
		return ev.ConversationID == f.Value
	case "message_id":
		return ev.MessageID == f.Value
	default:
		return false
	}
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Feed is a publish/subscribe change feed.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
	Close() error
}

// Subscription delivers matching events until closed. Close is idempotent
// and also runs when the context passed to Subscribe is cancelled.
type Subscription struct {
	filter   Filter
	events   chan ChangeEvent
	done     chan struct{}
	once     sync.Once
	onStop   func()
	overflow atomic.Bool
}

func newSubscription(f Filter, buffer int, onStop func()) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscription{
		filter: f,
		events: make(chan ChangeEvent, buffer),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Events is closed after the subscription stops.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Done is closed when the subscription stops.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.onStop()
		}
	})
	return nil
}

// Overflowed reports whether an event was dropped since the last call and
// clears the flag. A consumer that keeps derived state reloads it when this
// returns true.
func (s *Subscription) Overflowed() bool {
	return s.overflow.Swap(false)
}

// deliver hands ev to the subscriber without blocking. It reports false when
// the buffer is full or the subscription is closed; a full buffer marks the
// subscription as overflowed.
func (s *Subscription) deliver(ev ChangeEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.overflow.Store(true)
		return false
	}
}

// watch closes the subscription when ctx ends.
func (s *Subscription) watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}
