package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
)

func nextEvent(t *testing.T, sub *realtime.Subscription) realtime.ChangeEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return realtime.ChangeEvent{}
}

func TestFeedStorePublishesWrites(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed(16, zerolog.Nop())
	defer feed.Close()
	s := NewFeedStore(NewMemoryStore(), feed, zerolog.Nop())

	a, b := mustProfile(t, s, "a"), mustProfile(t, s, "b")

	convs, err := feed.Subscribe(ctx, realtime.Filter{Table: realtime.TableConversations, Ops: []realtime.Op{realtime.OpInsert}})
	if err != nil {
		t.Fatal(err)
	}
	defer convs.Close()

	conv, _, err := s.ResolveConversation(ctx, a.ID, b.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, convs); ev.ConversationID != conv.ID {
		t.Fatalf("unexpected conversation event %+v", ev)
	}
	// Resolving an existing pair publishes nothing.
	if _, _, err := s.ResolveConversation(ctx, b.ID, a.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-convs.Events():
		t.Fatalf("unexpected event for existing conversation %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	msgs, err := feed.Subscribe(ctx, realtime.ForConversation(realtime.TableMessages, conv.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer msgs.Close()

	msg := &models.Message{ConversationID: conv.ID, SenderID: a.ID, Content: "בוקר טוב"}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, msgs)
	var row models.Message
	if err := ev.DecodeRow(&row); err != nil {
		t.Fatal(err)
	}
	if ev.Op != realtime.OpInsert || row.ID != msg.ID || row.Content != "בוקר טוב" {
		t.Fatalf("unexpected insert event %+v row %+v", ev, row)
	}

	if _, err := s.MarkConversationRead(ctx, conv.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, msgs); ev.Op != realtime.OpUpdate {
		t.Fatalf("expected update event, got %s", ev.Op)
	}

	reactions, err := feed.Subscribe(ctx, realtime.ForMessage(realtime.TableMessageReactions, msg.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer reactions.Close()

	for _, want := range []realtime.Op{realtime.OpInsert, realtime.OpDelete} {
		if _, _, err := s.ToggleReaction(ctx, msg.ID, b.ID, "❤️", time.Now()); err != nil {
			t.Fatal(err)
		}
		if ev := nextEvent(t, reactions); ev.Op != want || ev.MessageID != msg.ID {
			t.Fatalf("expected %s for %s, got %+v", want, msg.ID, ev)
		}
	}
}

func TestFeedStoreSkipsFailedWrites(t *testing.T) {
	ctx := context.Background()
	feed := realtime.NewMemoryFeed(4, zerolog.Nop())
	defer feed.Close()
	s := NewFeedStore(NewMemoryStore(), feed, zerolog.Nop())

	sub, err := feed.Subscribe(ctx, realtime.Filter{Table: realtime.TableMessages})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	err = s.CreateMessage(ctx, &models.Message{ConversationID: uuid.New(), SenderID: uuid.New(), Content: "x"})
	if err == nil {
		t.Fatal("expected error for missing conversation")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("failed write published %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
