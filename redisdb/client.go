// Package redisdb is the Redis-backed entry store, key store and event bus.
//
// Key schema:
//
//	board:{slug}:entries  sorted set, score = created_at (unix micros), at most N members
//	board:{slug}:seq      arrival counter used to order members with equal scores
//	board:{slug}:authkey  string with its own TTL
//	board:{slug}:channel  pub/sub channel, nothing stored
package redisdb

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lanclip/models"
)

// Client is the entrypoint into Redis. It is safe for concurrent use.
type Client struct {
	db         *redis.Client
	maxEntries int64
	ttl        time.Duration
	logger     *slog.Logger
}

// Open returns a configured Client, verifying a successful connection to redis.
func Open(ctx context.Context, address string, maxEntries int, ttl time.Duration, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, models.ErrInvalid.New("bad redis url %q: %v", address, err)
	}

	client := &Client{
		db:         redis.NewClient(opts),
		maxEntries: int64(maxEntries),
		ttl:        ttl,
		logger:     logger.With("component", "redisdb"),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.Ping(ctx); err != nil {
		_ = client.db.Close()
		return nil, err
	}
	return client, nil
}

// Ping reports whether redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return wrap(c.db.Ping(ctx).Err())
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

func entriesKey(slug string) string { return "board:" + slug + ":entries" }
func seqKey(slug string) string     { return "board:" + slug + ":seq" }
func authKey(slug string) string    { return "board:" + slug + ":authkey" }
func channelKey(slug string) string { return "board:" + slug + ":channel" }

const entriesPattern = "board:*:entries"

// slugFromEntriesKey is the inverse of entriesKey.
func slugFromEntriesKey(key string) string {
	return key[len("board:") : len(key)-len(":entries")]
}

// wrap maps transport failures to ErrUnavailable. redis.Nil is never passed here.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return models.ErrUnavailable.Wrap(err)
}
