package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("FEED_BUFFER", "")
	t.Setenv("RATE_LIMIT_WHITELIST", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.Env)
	}
	if cfg.FeedBuffer != 64 {
		t.Fatalf("expected feed buffer 64, got %d", cfg.FeedBuffer)
	}
}

func TestLoadWhitelistAndBuffer(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,192.168.0.0/16 ")
	t.Setenv("FEED_BUFFER", "not-a-number")

	cfg := Load()
	if len(cfg.RateLimitWhitelist) != 2 {
		t.Fatalf("expected 2 whitelist entries, got %v", cfg.RateLimitWhitelist)
	}
	if cfg.RateLimitWhitelist[1] != "192.168.0.0/16" {
		t.Fatalf("unexpected entry %q", cfg.RateLimitWhitelist[1])
	}
	if cfg.FeedBuffer != 64 {
		t.Fatalf("invalid FEED_BUFFER should fall back to 64, got %d", cfg.FeedBuffer)
	}
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without DATABASE_URL in production")
		}
	}()
	Load()
}

func TestGlobalConversationID(t *testing.T) {
	if GlobalConversationID.String() != "00000000-0000-0000-0000-000000000001" {
		t.Fatalf("unexpected global conversation id %s", GlobalConversationID)
	}
}
