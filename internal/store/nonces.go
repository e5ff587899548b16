package store

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore tracks nonces in process memory. It is used when the
// server runs without Redis.
type MemoryNonceStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	claims int
}

// NewMemoryNonceStore creates an empty nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// ClaimNonce records a nonce for ttl. It returns false when the nonce was
// already claimed and has not expired.
func (s *MemoryNonceStore) ClaimNonce(ctx context.Context, userID, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := nonceKey(userID, nonce)
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)

	// Sweep expired entries every 1024 claims.
	s.claims++
	if s.claims%1024 == 0 {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
	}
	return true, nil
}
