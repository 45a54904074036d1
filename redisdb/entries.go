package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lanclip/models"
)

// encodeMember prefixes the JSON record with the arrival sequence so members
// with equal scores sort in arrival order.
func encodeMember(seq int64, entry models.Entry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x|%s", seq, payload), nil
}

// decodeMember parses a stored member. Members without a sequence prefix are
// accepted as bare JSON.
func decodeMember(member string) (models.Entry, error) {
	payload := member
	if i := strings.IndexByte(member, '|'); i == 16 {
		payload = member[i+1:]
	}

	var entry models.Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return models.Entry{}, models.ErrCorrupt.Wrap(err)
	}
	if err := entry.Validate(); err != nil {
		return models.Entry{}, models.ErrCorrupt.Wrap(err)
	}
	return entry, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Insert atomically adds the entry, trims the board to maxEntries and resets
// the board TTL. The members to be trimmed are read inside the same
// transaction, so a concurrent insert cannot make that list stale.
func (c *Client) Insert(ctx context.Context, slug string, entry models.Entry) ([]models.Entry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	seq, err := c.db.Incr(ctx, seqKey(slug)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	member, err := encodeMember(seq, entry)
	if err != nil {
		return nil, err
	}

	key := entriesKey(slug)
	var trimmed *redis.StringSliceCmd
	_, err = c.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score(entry.CreatedAt), Member: member})
		trimmed = pipe.ZRange(ctx, key, 0, -(c.maxEntries + 1))
		pipe.ZRemRangeByRank(ctx, key, 0, -(c.maxEntries + 1))
		pipe.Expire(ctx, key, c.ttl)
		pipe.Expire(ctx, seqKey(slug), c.ttl)
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	var evicted []models.Entry
	for _, raw := range trimmed.Val() {
		old, err := decodeMember(raw)
		if err != nil {
			c.logger.Warn("Trimmed a corrupt entry", "board", slug, "error", err)
			continue
		}
		evicted = append(evicted, old)
	}
	return evicted, nil
}

// List returns the board's entries newest first. Corrupt records are skipped.
func (c *Client) List(ctx context.Context, slug string) ([]models.Entry, error) {
	members, err := c.db.ZRevRange(ctx, entriesKey(slug), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}

	entries := make([]models.Entry, 0, len(members))
	for _, raw := range members {
		entry, err := decodeMember(raw)
		if err != nil {
			c.logger.Warn("Skipping malformed entry", "board", slug, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// findMember scans the bounded collection for id and returns the raw member.
func (c *Client) findMember(ctx context.Context, slug, id string) (string, models.Entry, error) {
	members, err := c.db.ZRange(ctx, entriesKey(slug), 0, -1).Result()
	if err != nil {
		return "", models.Entry{}, wrap(err)
	}
	for _, raw := range members {
		entry, err := decodeMember(raw)
		if err != nil {
			continue
		}
		if entry.ID == id {
			return raw, entry, nil
		}
	}
	return "", models.Entry{}, models.ErrNotFound.New("entry %s on board %s", id, slug)
}

func (c *Client) Find(ctx context.Context, slug, id string) (models.Entry, error) {
	_, entry, err := c.findMember(ctx, slug, id)
	return entry, err
}

// Remove deletes the entry and returns it so the caller can release its asset.
func (c *Client) Remove(ctx context.Context, slug, id string) (models.Entry, error) {
	raw, entry, err := c.findMember(ctx, slug, id)
	if err != nil {
		return models.Entry{}, err
	}
	removed, err := c.db.ZRem(ctx, entriesKey(slug), raw).Result()
	if err != nil {
		return models.Entry{}, wrap(err)
	}
	if removed == 0 {
		// lost a race with another delete or a trim
		return models.Entry{}, models.ErrNotFound.New("entry %s on board %s", id, slug)
	}
	return entry, nil
}

// boardKeys returns every entries key currently in redis.
func (c *Client) boardKeys(ctx context.Context) ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	it := c.db.Scan(ctx, 0, entriesPattern, 100).Iterator()
	for it.Next(ctx) {
		key := it.Val()
		// redis may return duplicates
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	if err := it.Err(); err != nil {
		return nil, wrap(err)
	}
	return keys, nil
}

// ListBoards returns every board with at least one entry, most recently
// active first.
func (c *Client) ListBoards(ctx context.Context) ([]models.BoardSummary, error) {
	keys, err := c.boardKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.BoardSummary{}, nil
	}

	type boardCmds struct {
		count  *redis.IntCmd
		top    *redis.ZSliceCmd
		hasKey *redis.IntCmd
	}
	cmds := make([]boardCmds, len(keys))
	_, err = c.db.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			slug := slugFromEntriesKey(key)
			cmds[i] = boardCmds{
				count:  pipe.ZCard(ctx, key),
				top:    pipe.ZRevRangeWithScores(ctx, key, 0, 0),
				hasKey: pipe.Exists(ctx, authKey(slug)),
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	boards := make([]models.BoardSummary, 0, len(keys))
	for i, key := range keys {
		count := cmds[i].count.Val()
		if count == 0 {
			continue
		}
		summary := models.BoardSummary{
			Slug:       slugFromEntriesKey(key),
			EntryCount: int(count),
			HasKey:     cmds[i].hasKey.Val() > 0,
		}
		if top := cmds[i].top.Val(); len(top) > 0 && top[0].Score > 0 {
			last := time.UnixMicro(int64(top[0].Score)).UTC()
			summary.LastActivity = &last
		}
		boards = append(boards, summary)
	}

	models.SortBoards(boards)
	return boards, nil
}

// ReferencedLocators collects the image locators of every live entry.
func (c *Client) ReferencedLocators(ctx context.Context) (map[string]struct{}, error) {
	keys, err := c.boardKeys(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{})
	for _, key := range keys {
		members, err := c.db.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, wrap(err)
		}
		for _, raw := range members {
			entry, err := decodeMember(raw)
			if err != nil {
				continue
			}
			if entry.ImagePath != "" {
				referenced[entry.ImagePath] = struct{}{}
			}
		}
	}
	return referenced, nil
}
