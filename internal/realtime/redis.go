package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/metrics"
)

const channelPrefix = "kayan:changes:"

// channelName returns the pub/sub channel of a table.
func channelName(table string) string {
	return channelPrefix + table
}

// RedisFeed publishes change events on one Redis channel per table so every
// server instance sees every committed change.
type RedisFeed struct {
	client *redis.Client
	buffer int
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

// NewRedisFeed creates a feed on top of an existing client.
func NewRedisFeed(client *redis.Client, buffer int, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		buffer: buffer,
		logger: logger,
		subs:   make(map[*Subscription]*redis.PubSub),
	}
}

// Publish sends ev to the table's channel.
func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, channelName(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Table, err)
	}
	metrics.FeedEventsPublished.WithLabelValues(ev.Table, string(ev.Op)).Inc()
	return nil
}

// Subscribe listens on the filter's table channel and forwards matching
// events. It returns once Redis has confirmed the subscription.
func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.mu.Unlock()

	pubsub := f.client.Subscribe(ctx, channelName(filter.Table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", filter.Table, err)
	}

	var sub *Subscription
	sub = newSubscription(filter, f.buffer, func() { f.release(sub) })

	f.mu.Lock()
	f.subs[sub] = pubsub
	f.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go f.forward(sub, pubsub)
	sub.watch(ctx)
	return sub, nil
}

// forward is the only sender on sub.events; it closes the channel on exit.
func (f *RedisFeed) forward(sub *Subscription, pubsub *redis.PubSub) {
	defer close(sub.events)
	ch := pubsub.Channel()
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-ch:
			if !ok {
				f.logger.Warn().Str("filter", sub.filter.String()).Msg("redis subscription closed")
				sub.Close()
				return
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				metrics.FeedEventsDropped.WithLabelValues("malformed").Inc()
				continue
			}
			if !sub.filter.Matches(ev) {
				continue
			}
			if !sub.deliver(ev) {
				metrics.FeedEventsDropped.WithLabelValues("slow_consumer").Inc()
			}
		}
	}
}

func (f *RedisFeed) release(sub *Subscription) {
	f.mu.Lock()
	pubsub, ok := f.subs[sub]
	delete(f.subs, sub)
	f.mu.Unlock()
	if !ok {
		return
	}
	_ = pubsub.Close()
	metrics.ActiveSubscriptions.Dec()
}

// Close stops every subscription. The Redis client is owned by the caller.
func (f *RedisFeed) Close() error {
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

func encodeEvent(ev ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// decodeEvent rejects payloads that are not change events.
func decodeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, err
	}
	if ev.Table == "" || ev.Op == "" {
		return ChangeEvent{}, fmt.Errorf("change event missing table or op")
	}
	return ev, nil
}
