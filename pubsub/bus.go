// Package pubsub is an in-process event bus for single-instance deployments
// that do not run redis.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"lanclip/models"
)

// subscriberBuffer bounds how far a reader may lag before events are dropped.
const subscriberBuffer = 16

// Bus fans events out to the subscribers of each board. Publish never blocks
// on a slow reader: when a subscriber's buffer is full the event is dropped
// for that subscriber only.
type Bus struct {
	mu     sync.Mutex
	boards map[string]map[*subscription]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		boards: make(map[string]map[*subscription]struct{}),
		logger: logger.With("component", "pubsub"),
	}
}

// Publish delivers the event to every current subscriber of the board.
// Delivery happens under the bus lock, so events from one publisher reach
// each subscriber in publish order.
func (b *Bus) Publish(ctx context.Context, slug string, kind models.EventKind, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := models.Event{Kind: kind, Data: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.boards[slug] {
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("Dropping event for slow subscriber", "board", slug, "event", kind)
		}
	}
	return nil
}

// Subscribe registers a subscriber before returning. The subscription ends
// when ctx is done or Close is called.
func (b *Bus) Subscribe(ctx context.Context, slug string) (models.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		bus:    b,
		slug:   slug,
		events: make(chan models.Event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.boards[slug] == nil {
		b.boards[slug] = make(map[*subscription]struct{})
	}
	b.boards[slug][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions on the board.
func (b *Bus) Subscribers(slug string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.boards[slug])
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.boards[sub.slug]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.boards, sub.slug)
	}
	// closed under the lock so Publish never sends on a closed channel
	close(sub.events)
}

type subscription struct {
	bus    *Bus
	slug   string
	events chan models.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan models.Event {
	return s.events
}

// Close unregisters the subscriber. It is safe to call more than once.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
	return nil
}
