package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

func TestThreadReceivesLiveMessagesAndMarksThemRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	if _, err := f.svc.SendMessage(ctx, conv, f.a.ID, "before open"); err != nil {
		t.Fatal(err)
	}

	thread, err := f.svc.OpenThread(ctx, conv, f.b.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	history := thread.Messages()
	if len(history) != 1 || !history[0].IsRead {
		t.Fatalf("expected one read history message, got %+v", history)
	}

	live, err := f.svc.SendMessage(ctx, conv, f.a.ID, "arrived live")
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "live message appended", func() bool { return len(thread.Messages()) == 2 })
	got := thread.Messages()[1]
	if got.ID != live.ID || got.SenderName != "Avi Contractor" || !got.IsRead {
		t.Fatalf("unexpected live message %+v", got)
	}
	eventually(t, "live message marked read in store", func() bool {
		m, _ := f.mem.GetMessage(ctx, live.ID)
		return m != nil && m.IsRead
	})
}

func TestThreadDoesNotMarkOwnMessagesRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	thread, err := f.svc.OpenThread(ctx, conv, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	sent, err := thread.Send(ctx, "  my quote is ready  ")
	if err != nil {
		t.Fatal(err)
	}
	if sent.Content != "my quote is ready" {
		t.Fatalf("expected trimmed content, got %q", sent.Content)
	}

	// Give the feed event a chance to arrive; it must not duplicate the message.
	time.Sleep(50 * time.Millisecond)
	msgs := thread.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	stored, _ := f.mem.GetMessage(ctx, sent.ID)
	if stored.IsRead {
		t.Fatal("sender's own message was marked read")
	}
}

func TestThreadDropsDuplicateAndMalformedEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	msg, err := f.svc.SendMessage(ctx, conv, f.a.ID, "loaded")
	if err != nil {
		t.Fatal(err)
	}
	thread, err := f.svc.OpenThread(ctx, conv, f.b.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	dup, err := realtime.NewEvent(realtime.TableMessages, realtime.OpInsert, conv, msg.ID, msg.Message)
	if err != nil {
		t.Fatal(err)
	}
	thread.handle(dup)
	thread.handle(realtime.ChangeEvent{Table: realtime.TableMessages, Op: realtime.OpInsert, Row: []byte("{not json")})
	thread.handle(realtime.ChangeEvent{Table: realtime.TableMessages, Op: realtime.OpInsert})

	other, err := realtime.NewEvent(realtime.TableMessages, realtime.OpInsert, uuid.New(), uuid.New(), models.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       f.a.ID,
		Content:        "wrong conversation",
	})
	if err != nil {
		t.Fatal(err)
	}
	thread.handle(other)

	if n := len(thread.Messages()); n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
}

func TestThreadSendRejectsEmptyAndConcurrentSends(t *testing.T) {
	gate := &gatedCreate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, func(ds store.DataStore) store.DataStore {
		gate.DataStore = ds
		return gate
	})
	ctx := context.Background()
	conv := f.conversation(t)

	thread, err := f.svc.OpenThread(ctx, conv, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	if _, err := thread.Send(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := thread.Send(ctx, "first")
		done <- err
	}()
	<-gate.entered

	if _, err := thread.Send(ctx, "second"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	n, _ := f.mem.CountMessages(ctx)
	if n != 1 {
		t.Fatalf("expected one stored message, got %d", n)
	}

	// The guard is released after the send completes.
	if _, err := thread.Send(ctx, "third"); err != nil {
		t.Fatal(err)
	}
}

type gatedCreate struct {
	store.DataStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCreate) CreateMessage(ctx context.Context, msg *models.Message) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.DataStore.CreateMessage(ctx, msg)
}

func TestOpenThreadRequiresParticipant(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.conversation(t)
	if _, err := f.svc.OpenThread(context.Background(), conv, uuid.New()); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestThreadStopsWithContext(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.conversation(t)

	ctx, cancel := context.WithCancel(context.Background())
	thread, err := f.svc.OpenThread(ctx, conv, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-thread.Done():
	case <-time.After(time.Second):
		t.Fatal("thread did not stop after context cancel")
	}
	if err := thread.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConversationListFollowsChanges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	list, err := f.svc.WatchConversations(ctx, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer list.Close()
	if n := len(list.Snapshot()); n != 0 {
		t.Fatalf("expected empty list, got %d", n)
	}

	conv, _, err := f.svc.ResolveConversation(ctx, f.b.ID, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "new conversation listed", func() bool { return len(list.Snapshot()) == 1 })

	if _, err := f.svc.SendMessage(ctx, conv.ID, f.b.ID, "need a plasterer on Sunday"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "unread count rises", func() bool {
		s := list.Snapshot()
		return len(s) == 1 && s[0].UnreadCount == 1 && s[0].LastMessage != nil
	})

	if _, err := f.svc.LoadThread(ctx, conv.ID, f.a.ID); err != nil {
		t.Fatal(err)
	}
	eventually(t, "unread count cleared", func() bool {
		s := list.Snapshot()
		return len(s) == 1 && s[0].UnreadCount == 0
	})

	select {
	case <-list.Changed():
	default:
		t.Fatal("expected a pending change notification")
	}
}

func TestThreadKeepsEveryMessageOfABurst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	thread, err := f.svc.OpenThread(ctx, conv, f.b.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer thread.Close()

	// Far more inserts than one subscription buffers.
	const burst = 300
	var wg sync.WaitGroup
	errs := make(chan error, burst)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SendMessage(ctx, conv, f.a.ID, "quote line"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	stored, err := f.mem.ListThread(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != burst {
		t.Fatalf("expected %d stored messages, got %d", burst, len(stored))
	}
	eventuallyWithin(t, 5*time.Second, "every stored message shown", func() bool {
		return len(thread.Messages()) == burst
	})

	ids := make(map[uuid.UUID]bool, burst)
	for _, m := range thread.Messages() {
		if ids[m.ID] {
			t.Fatalf("message %s shown twice", m.ID)
		}
		ids[m.ID] = true
	}
}

// slowTouch delays the last_message_at bump that follows a message insert.
type slowTouch struct {
	store.DataStore
}

func (s slowTouch) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	time.Sleep(50 * time.Millisecond)
	return s.DataStore.TouchConversation(ctx, id, at)
}

func TestConversationListReordersAfterSend(t *testing.T) {
	f := newFixture(t, func(ds store.DataStore) store.DataStore { return slowTouch{ds} })
	ctx := context.Background()

	dana, err := f.mem.CreateProfile(ctx, "pk-c", "Dana Tiles", "")
	if err != nil {
		t.Fatal(err)
	}
	older := f.conversation(t)
	newer, _, err := f.svc.ResolveConversation(ctx, f.a.ID, dana.ID)
	if err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.WatchConversations(ctx, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer list.Close()

	first := func() uuid.UUID {
		s := list.Snapshot()
		if len(s) != 2 {
			return uuid.Nil
		}
		return s[0].ID
	}
	if got := first(); got != newer.ID {
		t.Fatalf("expected newest conversation first, got %s", got)
	}

	if _, err := f.svc.SendMessage(ctx, older, f.b.ID, "tiles arrive tomorrow"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "conversation with the new message moves to the top", func() bool {
		return first() == older
	})

	fresh, err := f.svc.ListConversations(ctx, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	live := list.Snapshot()
	for i := range fresh {
		if live[i].ID != fresh[i].ID {
			t.Fatalf("live order differs from a fresh load at %d: %s vs %s", i, live[i].ID, fresh[i].ID)
		}
	}
}
