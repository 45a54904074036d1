package redisdb

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetBoardKey returns the board's access key, or "" when none is set.
func (c *Client) GetBoardKey(ctx context.Context, slug string) (string, error) {
	key, err := c.db.Get(ctx, authKey(slug)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrap(err)
	}
	return key, nil
}

// SwapBoardKey installs key only while the stored key still equals old; an
// empty old means no key may be set. Concurrent writers lose the WATCH race.
func (c *Client) SwapBoardKey(ctx context.Context, slug, old, key string, ttl time.Duration) (bool, error) {
	k := authKey(slug)
	if old == "" {
		ok, err := c.db.SetNX(ctx, k, key, ttl).Result()
		return ok, wrap(err)
	}

	swapped := false
	err := c.db.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != old {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, key, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return swapped, nil
}

func (c *Client) DeleteBoardKey(ctx context.Context, slug string) error {
	return wrap(c.db.Del(ctx, authKey(slug)).Err())
}
