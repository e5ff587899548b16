package kayan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/config"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/messaging"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/store"
)

// newServer runs the full API over in-memory backends.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	feed := realtime.NewMemoryFeed(64, zerolog.Nop())
	mem := store.NewMemoryStore()
	svc := messaging.NewService(store.NewFeedStore(mem, feed, zerolog.Nop()), feed, zerolog.Nop())

	router := api.NewRouter(zerolog.Nop(), &config.Config{}, api.Deps{
		Service: svc,
		Nonces:  store.NewMemoryNonceStore(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		feed.Close()
	})
	return srv
}

func newRegisteredClient(t *testing.T, baseURL, name string) *Client {
	t.Helper()
	t.Setenv("KAYAN_CONFIG", t.TempDir())
	c := NewClient(baseURL)
	if _, err := c.Register(context.Background(), name, ""); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestConversationRoundTrip(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	avi := newRegisteredClient(t, srv.URL, "Avi Contractor")
	bina := newRegisteredClient(t, srv.URL, "Bina Renovations")

	convID, created, err := avi.StartConversation(ctx, bina.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new conversation")
	}
	again, created, err := bina.StartConversation(ctx, avi.UserID)
	if err != nil || created || again != convID {
		t.Fatalf("expected existing conversation %s, got %s created=%v err=%v", convID, again, created, err)
	}

	msg, err := avi.Send(ctx, convID, "Can you start on Sunday?")
	if err != nil {
		t.Fatal(err)
	}

	list, err := bina.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UnreadCount != 1 || list[0].Other.DisplayName != "Avi Contractor" {
		t.Fatalf("unexpected conversation list %+v", list)
	}

	thread, err := bina.Messages(ctx, convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].ID != msg.ID || !thread[0].IsRead {
		t.Fatalf("unexpected thread %+v", thread)
	}

	present, summaries, err := bina.React(ctx, msg.ID.String(), "👍")
	if err != nil {
		t.Fatal(err)
	}
	if !present || len(summaries) != 1 || summaries[0].Count != 1 {
		t.Fatalf("unexpected reaction result %v %+v", present, summaries)
	}
	seen, err := avi.Reactions(ctx, msg.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].ViewerHasReacted {
		t.Fatalf("unexpected reactions for sender %+v", seen)
	}
}

func TestSavedCredentialsAreReused(t *testing.T) {
	srv := newServer(t)
	c := newRegisteredClient(t, srv.URL, "Dana Tiles")

	reloaded := NewClient(srv.URL)
	if reloaded.UserID != c.UserID || !reloaded.PublicKey.Equal(c.PublicKey) {
		t.Fatal("saved credentials were not loaded")
	}
	if _, err := reloaded.Conversations(context.Background()); err != nil {
		t.Fatalf("reloaded client cannot sign: %v", err)
	}
}

func TestAPIErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := newRegisteredClient(t, srv.URL, "Avi Contractor")

	_, _, err := c.StartConversation(ctx, c.UserID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 API error, got %v", err)
	}

	anon := NewClient(srv.URL)
	anon.UserID, anon.PrivateKey = "", nil
	if _, err := anon.Conversations(ctx); err == nil {
		t.Fatal("expected unregistered client to fail")
	}
}

func TestConversationStream(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	avi := newRegisteredClient(t, srv.URL, "Avi Contractor")
	bina := newRegisteredClient(t, srv.URL, "Bina Renovations")

	stream, err := bina.OpenStream(ctx, "conversations", "")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != "conversations" {
		t.Fatalf("unexpected first frame %q", first.Type)
	}

	convID, _, err := avi.StartConversation(ctx, bina.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := avi.Send(ctx, convID, "Quote attached"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, err := stream.Next()
		if err != nil {
			t.Fatal(err)
		}
		var list []models.ConversationSummary
		if err := json.Unmarshal(f.Data, &list); err != nil {
			t.Fatal(err)
		}
		if len(list) == 1 && list[0].UnreadCount == 1 && list[0].LastMessage != nil {
			return
		}
	}
	t.Fatal("conversation list never showed the new message")
}
