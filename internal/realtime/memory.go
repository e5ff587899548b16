package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
)

// MemoryFeed is an in-process feed. It serves a single server instance and
// the tests; RedisFeed fans events out across instances.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	logger zerolog.Logger
}

// NewMemoryFeed creates an in-process feed with the given per-subscription buffer.
func NewMemoryFeed(buffer int, logger zerolog.Logger) *MemoryFeed {
	return &MemoryFeed{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers ev to every matching subscriber. A subscriber whose buffer
// is full misses the event.
func (f *MemoryFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	metrics.FeedEventsPublished.WithLabelValues(ev.Table, string(ev.Op)).Inc()
	for sub := range f.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		if !sub.deliver(ev) {
			metrics.FeedEventsDropped.WithLabelValues("slow_consumer").Inc()
			f.logger.Warn().
				Str("filter", sub.filter.String()).
				Str("event_id", ev.ID).
				Msg("subscriber buffer full, event dropped")
		}
	}
	return nil
}

// Subscribe registers a subscription for events matching filter.
func (f *MemoryFeed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(filter, f.buffer, func() { f.remove(sub) })
	f.subs[sub] = struct{}{}
	metrics.ActiveSubscriptions.Inc()
	sub.watch(ctx)
	return sub, nil
}

func (f *MemoryFeed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.events)
	metrics.ActiveSubscriptions.Dec()
}

// Close stops every subscription.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
