package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func receive(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ChangeEvent{}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func mustEvent(t *testing.T, table string, op Op, conv, msg uuid.UUID) ChangeEvent {
	t.Helper()
	ev, err := NewEvent(table, op, conv, msg, map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestParseFilter(t *testing.T) {
	id := uuid.New()
	f, err := ParseFilter(TableMessages, "conversation_id=eq."+id.String())
	if err != nil {
		t.Fatal(err)
	}
	if f.Column != "conversation_id" || f.Value != id {
		t.Fatalf("unexpected filter %+v", f)
	}
	if f.String() != "messages:conversation_id=eq."+id.String() {
		t.Fatalf("unexpected string %q", f.String())
	}

	if _, err := ParseFilter(TableMessages, "sender_id=eq."+id.String()); err == nil {
		t.Fatal("expected error for unsupported column")
	}
	if _, err := ParseFilter(TableMessages, "conversation_id=gt.1"); err == nil {
		t.Fatal("expected error for unsupported operator")
	}
	all, err := ParseFilter(TableMessages, "")
	if err != nil || all.Column != "" {
		t.Fatalf("empty expression should match whole table, got %+v %v", all, err)
	}
}

func TestFilterMatches(t *testing.T) {
	conv := uuid.New()
	msg := uuid.New()
	ev := mustEvent(t, TableMessages, OpInsert, conv, msg)

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"whole table", Filter{Table: TableMessages}, true},
		{"other table", Filter{Table: TableMessageReactions}, false},
		{"conversation match", ForConversation(TableMessages, conv), true},
		{"conversation mismatch", ForConversation(TableMessages, uuid.New()), false},
		{"op match", ForConversation(TableMessages, conv, OpInsert), true},
		{"op mismatch", ForConversation(TableMessages, conv, OpUpdate, OpDelete), false},
		{"message match", ForMessage(TableMessages, msg), true},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(ev); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMemoryFeedDeliversMatchingEvents(t *testing.T) {
	feed := NewMemoryFeed(8, zerolog.Nop())
	defer feed.Close()

	conv := uuid.New()
	ctx := context.Background()
	sub, err := feed.Subscribe(ctx, ForConversation(TableMessages, conv, OpInsert))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := feed.Publish(ctx, mustEvent(t, TableMessages, OpInsert, uuid.New(), uuid.New())); err != nil {
		t.Fatal(err)
	}
	want := mustEvent(t, TableMessages, OpInsert, conv, uuid.New())
	if err := feed.Publish(ctx, want); err != nil {
		t.Fatal(err)
	}

	got := receive(t, sub)
	if got.ID != want.ID {
		t.Fatalf("expected event %s, got %s", want.ID, got.ID)
	}
	expectNone(t, sub)

	var row map[string]string
	if err := got.DecodeRow(&row); err != nil || row["k"] != "v" {
		t.Fatalf("unexpected row %v (%v)", row, err)
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	feed := NewMemoryFeed(8, zerolog.Nop())
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, Filter{Table: TableMessages})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}

	// Publishing after the subscriber left must not panic.
	if err := feed.Publish(context.Background(), mustEvent(t, TableMessages, OpInsert, uuid.New(), uuid.New())); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryFeedCloseRejectsNewWork(t *testing.T) {
	feed := NewMemoryFeed(1, zerolog.Nop())
	sub, err := feed.Subscribe(context.Background(), Filter{Table: TableMessages})
	if err != nil {
		t.Fatal(err)
	}
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}
	<-sub.Done()

	if _, err := feed.Subscribe(context.Background(), Filter{Table: TableMessages}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := feed.Publish(context.Background(), ChangeEvent{Table: TableMessages, Op: OpInsert}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryFeedDropsWhenBufferFull(t *testing.T) {
	feed := NewMemoryFeed(1, zerolog.Nop())
	defer feed.Close()

	sub, err := feed.Subscribe(context.Background(), Filter{Table: TableMessages})
	if err != nil {
		t.Fatal(err)
	}
	first := mustEvent(t, TableMessages, OpInsert, uuid.New(), uuid.New())
	_ = feed.Publish(context.Background(), first)
	_ = feed.Publish(context.Background(), mustEvent(t, TableMessages, OpInsert, uuid.New(), uuid.New()))

	if got := receive(t, sub); got.ID != first.ID {
		t.Fatalf("expected first event to be kept, got %s", got.ID)
	}
	expectNone(t, sub)

	if !sub.Overflowed() {
		t.Fatal("expected the drop to be reported")
	}
	if sub.Overflowed() {
		t.Fatal("overflow flag should clear once read")
	}
}

func TestDecodeEventRejectsMalformedPayloads(t *testing.T) {
	if _, err := decodeEvent([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := decodeEvent([]byte(`{"id":"x"}`)); err == nil {
		t.Fatal("expected error for missing table/op")
	}

	ev := mustEvent(t, TableMessageReactions, OpDelete, uuid.Nil, uuid.New())
	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageID != ev.MessageID || got.Op != OpDelete || got.Table != TableMessageReactions {
		t.Fatalf("unexpected decoded event %+v", got)
	}
	if channelName(TableMessages) != "kayan:changes:messages" {
		t.Fatalf("unexpected channel %q", channelName(TableMessages))
	}
}
