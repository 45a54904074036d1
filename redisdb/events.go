package redisdb

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"lanclip/models"
)

// subscriberBuffer bounds how far a reader may lag behind redis delivery.
const subscriberBuffer = 16

// Publish broadcasts an event to every current subscriber of the board.
// Nothing is stored: late subscribers never see it.
func (c *Client) Publish(ctx context.Context, slug string, kind models.EventKind, payload string) error {
	message, err := json.Marshal(models.Event{Kind: kind, Data: payload})
	if err != nil {
		return err
	}
	return wrap(c.db.Publish(ctx, channelKey(slug), message).Err())
}

// Subscribe listens on the board's channel. It returns only after redis has
// confirmed the subscription, so any Publish that happens afterwards is seen.
func (c *Client) Subscribe(ctx context.Context, slug string) (models.Subscription, error) {
	ps := c.db.Subscribe(ctx, channelKey(slug))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ps:     ps,
		events: make(chan models.Event, subscriberBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, c.logger.With("board", slug))
	return sub, nil
}

type subscription struct {
	ps     *redis.PubSub
	events chan models.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) Events() <-chan models.Event {
	return s.events
}

// Close stops delivery and waits until the redis subscription is released.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return s.err
}

func (s *subscription) run(ctx context.Context, logger *slog.Logger) {
	defer close(s.done)
	defer close(s.events)
	defer s.release()

	messages := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Dropping malformed event", "error", err)
				continue
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *subscription) release() {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
}
