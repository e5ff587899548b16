package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

type fixture struct {
	svc  *Service
	mem  *store.MemoryStore
	feed *realtime.MemoryFeed
	a, b *models.Profile
}

// newFixture wires a service over an in-memory store whose writes are
// published to an in-memory feed. wrap, when given, decorates the store.
func newFixture(t *testing.T, wrap func(store.DataStore) store.DataStore) *fixture {
	t.Helper()
	feed := realtime.NewMemoryFeed(64, zerolog.Nop())
	t.Cleanup(func() { feed.Close() })

	mem := store.NewMemoryStore()
	var ds store.DataStore = store.NewFeedStore(mem, feed, zerolog.Nop())
	if wrap != nil {
		ds = wrap(ds)
	}
	svc := NewService(ds, feed, zerolog.Nop())

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}

	ctx := context.Background()
	a, err := mem.CreateProfile(ctx, "pk-a", "Avi Contractor", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := mem.CreateProfile(ctx, "pk-b", "Bina Renovations", "")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, mem: mem, feed: feed, a: a, b: b}
}

func (f *fixture) conversation(t *testing.T) uuid.UUID {
	t.Helper()
	conv, _, err := f.svc.ResolveConversation(context.Background(), f.a.ID, f.b.ID)
	if err != nil {
		t.Fatal(err)
	}
	return conv.ID
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	eventuallyWithin(t, time.Second, msg, cond)
}

func eventuallyWithin(t *testing.T, wait time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestThreadLoadIsOrdered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	for i, sender := range []uuid.UUID{f.a.ID, f.b.ID, f.b.ID, f.a.ID, f.b.ID} {
		if _, err := f.svc.SendMessage(ctx, conv, sender, "msg "+string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}

	thread, err := f.svc.LoadThread(ctx, conv, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(thread))
	}
	for i := 1; i < len(thread); i++ {
		if thread[i].CreatedAt.Before(thread[i-1].CreatedAt) {
			t.Fatalf("message %d out of order", i)
		}
	}
}

func TestUnreadCountResetsAfterOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	for _, text := range []string{"hi", "is the excavator free tomorrow?", "  ping  "} {
		if _, err := f.svc.SendMessage(ctx, conv, f.b.ID, text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.SendMessage(ctx, conv, f.a.ID, "checking"); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.ListConversations(ctx, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UnreadCount != 3 {
		t.Fatalf("expected 3 unread, got %+v", list)
	}

	if _, err := f.svc.LoadThread(ctx, conv, f.a.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = f.svc.ListConversations(ctx, f.a.ID)
	if list[0].UnreadCount != 0 {
		t.Fatalf("expected 0 unread after opening, got %d", list[0].UnreadCount)
	}

	other, _ := f.svc.ListConversations(ctx, f.b.ID)
	if other[0].UnreadCount != 1 {
		t.Fatalf("expected B to still have 1 unread, got %d", other[0].UnreadCount)
	}
}

func TestResolveConversationIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, created, err := f.svc.ResolveConversation(ctx, f.a.ID, f.b.ID)
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	second, created, err := f.svc.ResolveConversation(ctx, f.a.ID, f.b.ID)
	if err != nil || created {
		t.Fatalf("expected existing, got created=%v err=%v", created, err)
	}
	reverse, _, err := f.svc.ResolveConversation(ctx, f.b.ID, f.a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || first.ID != reverse.ID {
		t.Fatalf("expected one conversation, got %s %s %s", first.ID, second.ID, reverse.ID)
	}
}

func TestResolveConversationRejectsBadTargets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.svc.ResolveConversation(ctx, f.a.ID, f.a.ID); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if _, _, err := f.svc.ResolveConversation(ctx, f.a.ID, uuid.New()); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if _, _, err := f.svc.ResolveConversation(ctx, uuid.Nil, f.b.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestEmptyContentIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	before, _ := f.mem.GetConversation(ctx, conv)
	for _, content := range []string{"", "   ", "\n\t "} {
		if _, err := f.svc.SendMessage(ctx, conv, f.a.ID, content); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", content, err)
		}
	}

	n, _ := f.mem.CountMessages(ctx)
	if n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
	after, _ := f.mem.GetConversation(ctx, conv)
	if !after.LastMessageAt.Equal(before.LastMessageAt) {
		t.Fatal("last_message_at changed on rejected send")
	}
}

func TestSendRequiresParticipant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)

	stranger, _ := f.mem.CreateProfile(ctx, "pk-c", "Chen", "")
	if _, err := f.svc.SendMessage(ctx, conv, stranger.ID, "let me in"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.svc.LoadThread(ctx, conv, stranger.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.svc.SendMessage(ctx, uuid.New(), f.a.ID, "nowhere"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	// Anyone may post to the global conversation, and it never shows in lists.
	if _, err := f.svc.SendMessage(ctx, config.GlobalConversationID, stranger.ID, "hello everyone"); err != nil {
		t.Fatal(err)
	}
	list, _ := f.svc.ListConversations(ctx, stranger.ID)
	if len(list) != 0 {
		t.Fatalf("global conversation leaked into list: %+v", list)
	}
}

func TestAnonymousOperationsAreNoOps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)
	msg, err := f.svc.SendMessage(ctx, conv, f.a.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}

	thread, err := f.svc.LoadThread(ctx, conv, uuid.Nil)
	if err != nil || len(thread) != 0 {
		t.Fatalf("expected empty no-op load, got %d (%v)", len(thread), err)
	}
	present, err := f.svc.ToggleReaction(ctx, msg.ID, uuid.Nil, "👍")
	if err != nil || present {
		t.Fatalf("expected no-op toggle, got %v (%v)", present, err)
	}
	rows, _ := f.mem.ListReactions(ctx, msg.ID)
	if len(rows) != 0 {
		t.Fatal("anonymous toggle created a reaction")
	}
}

type failingCreate struct {
	store.DataStore
}

func (failingCreate) CreateMessage(context.Context, *models.Message) error {
	return errors.New("disk full")
}

func TestSendPropagatesStoreFailure(t *testing.T) {
	f := newFixture(t, func(ds store.DataStore) store.DataStore { return failingCreate{ds} })
	ctx := context.Background()
	conv := f.conversation(t)
	before, _ := f.mem.GetConversation(ctx, conv)

	if _, err := f.svc.SendMessage(ctx, conv, f.a.ID, "hello"); err == nil {
		t.Fatal("expected store error")
	}
	after, _ := f.mem.GetConversation(ctx, conv)
	if !after.LastMessageAt.Equal(before.LastMessageAt) {
		t.Fatal("last_message_at updated after failed insert")
	}
}

func TestFirstConversationScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	conv, created, err := f.svc.ResolveConversation(ctx, f.a.ID, f.b.ID)
	if err != nil || !created {
		t.Fatalf("expected new conversation, got created=%v err=%v", created, err)
	}
	for _, user := range []uuid.UUID{f.a.ID, f.b.ID} {
		if ok, _ := f.mem.IsParticipant(ctx, conv.ID, user); !ok {
			t.Fatalf("%s missing from participants", user)
		}
	}

	sent, err := f.svc.SendMessage(ctx, conv.ID, f.a.ID, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if sent.IsRead || sent.SenderID != f.a.ID || sent.ConversationID != conv.ID || sent.Content != "hello" {
		t.Fatalf("unexpected message %+v", sent)
	}

	thread, err := f.svc.LoadThread(ctx, conv.ID, f.b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].Content != "hello" {
		t.Fatalf("unexpected thread %+v", thread)
	}
	stored, _ := f.mem.GetMessage(ctx, sent.ID)
	if !stored.IsRead {
		t.Fatal("B's load did not mark the message read")
	}

	aList, _ := f.svc.ListConversations(ctx, f.a.ID)
	if len(aList) != 1 || aList[0].UnreadCount != 0 {
		t.Fatalf("unexpected list for A %+v", aList)
	}
	bList, _ := f.svc.ListConversations(ctx, f.b.ID)
	if len(bList) != 1 || bList[0].LastMessage == nil || bList[0].LastMessage.Content != "hello" {
		t.Fatalf("unexpected list for B %+v", bList)
	}
	if bList[0].Other.DisplayName != "Avi Contractor" {
		t.Fatalf("expected other participant Avi Contractor, got %q", bList[0].Other.DisplayName)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conv := f.conversation(t)
	f.svc.SendMessage(ctx, conv, f.a.ID, "private")
	f.svc.SendMessage(ctx, config.GlobalConversationID, f.b.ID, "public 1")
	f.svc.SendMessage(ctx, config.GlobalConversationID, f.a.ID, "public 2")

	st, err := f.svc.Stats(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalProfiles != 2 || st.TotalConversations != 2 || st.TotalMessages != 3 {
		t.Fatalf("unexpected totals %+v", st)
	}
	if st.LastActivity == nil {
		t.Fatal("expected last activity")
	}
	if len(st.RecentGlobal) != 2 || st.RecentGlobal[0].Content != "public 2" {
		t.Fatalf("unexpected recent messages %+v", st.RecentGlobal)
	}
}
