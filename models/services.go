// lanclip/models/services.go
package models

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Service Contracts ---

// EntryStore is the bounded, time-limited per-board entry log.
type EntryStore interface {
	// Insert adds the entry, trims the board to its capacity and refreshes the
	// board's retention window in one atomic step. The trimmed entries are
	// returned so the caller can release their assets after the commit.
	Insert(ctx context.Context, slug string, entry Entry) (evicted []Entry, err error)
	List(ctx context.Context, slug string) ([]Entry, error)
	Find(ctx context.Context, slug, id string) (Entry, error)
	Remove(ctx context.Context, slug, id string) (Entry, error)
	ListBoards(ctx context.Context) ([]BoardSummary, error)
	// ReferencedLocators returns every image locator reachable from a live entry.
	ReferencedLocators(ctx context.Context) (map[string]struct{}, error)
	Ping(ctx context.Context) error
	Close() error
}

// Expirer is implemented by stores without native key expiry. PurgeExpired
// drops every board whose retention window has elapsed and returns the image
// locators those boards referenced.
type Expirer interface {
	PurgeExpired(ctx context.Context) ([]string, error)
}

// EventBus fans change notifications out to live viewers of a board.
type EventBus interface {
	Publish(ctx context.Context, slug string, kind EventKind, payload string) error
	// Subscribe returns once the subscription is active. The event channel is
	// closed when ctx ends or the subscription is closed.
	Subscribe(ctx context.Context, slug string) (Subscription, error)
}

// Subscription is a live stream of events for one board.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// StorageService persists asset objects addressed by locator.
type StorageService interface {
	Save(ctx context.Context, locator string, data []byte, contentType string) error
	Read(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	List(ctx context.Context) ([]string, error)
}

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	prune  time.Duration
	expire time.Duration
}

// --- Rate Limiter Methods ---

// NewRateLimiter creates a rate limiter. Stale addresses are only forgotten
// while Run is active.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		prune:    prune,
		expire:   expire,
	}
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given IP address.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[ip] = limiter
	}
	rl.LastSeen[ip] = time.Now()
	return limiter
}

// Run periodically removes old entries from the rate limiter maps until ctx
// is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.prune)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Prune(time.Now().Add(-rl.expire))
		}
	}
}

// Prune forgets every address not seen since cutoff.
func (rl *RateLimiter) Prune(cutoff time.Time) int {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	removed := 0
	for ip, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, ip)
			delete(rl.LastSeen, ip)
			removed++
		}
	}
	return removed
}
