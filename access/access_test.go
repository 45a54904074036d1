package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lanclip/models"
)

// memKeys is a KeyStore backed by a map; expiry is not modelled.
type memKeys struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemKeys() *memKeys {
	return &memKeys{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKeys) GetBoardKey(_ context.Context, slug string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[slug], m.err
}

func (m *memKeys) SwapBoardKey(_ context.Context, slug, old, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys[slug] != old {
		return false, nil
	}
	m.keys[slug] = key
	m.ttls[slug] = ttl
	return true, nil
}

func (m *memKeys) DeleteBoardKey(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, slug)
	return m.err
}

func TestCheckWithoutKey(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemKeys(), time.Hour)

	for _, provided := range []string{"", "anything", "0123456789abcdef"} {
		if err := g.Check(ctx, "kitchen", provided); err != nil {
			t.Errorf("Expected open board to accept %q, got %v", provided, err)
		}
	}
}

func TestCheckWithKey(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemKeys(), time.Hour)

	key, err := g.Issue(ctx, "kitchen", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := g.Check(ctx, "kitchen", key); err != nil {
		t.Errorf("Expected exact key to pass, got %v", err)
	}
	for _, provided := range []string{"", "wrong", key + "x", key[:len(key)-1]} {
		err := g.Check(ctx, "kitchen", provided)
		if !models.ErrUnauthorized.Has(err) {
			t.Errorf("Expected Unauthorized for %q, got %v", provided, err)
		}
	}
	if err := g.Check(ctx, "garage", ""); err != nil {
		t.Errorf("Expected other boards to stay open, got %v", err)
	}
}

// TestReissue walks through key rotation: proof is required and the old key dies.
func TestReissue(t *testing.T) {
	ctx := context.Background()
	keys := newMemKeys()
	g := NewGate(keys, 48*time.Hour)

	first, err := g.Issue(ctx, "kitchen", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if keys.ttls["kitchen"] != 48*time.Hour {
		t.Errorf("Expected key TTL of 48h, got %s", keys.ttls["kitchen"])
	}

	if _, err := g.Issue(ctx, "kitchen", ""); !models.ErrForbidden.Has(err) {
		t.Fatalf("Expected Forbidden when reissuing without key, got %v", err)
	}

	second, err := g.Issue(ctx, "kitchen", first)
	if err != nil {
		t.Fatalf("Reissue with correct key failed: %v", err)
	}
	if second == first {
		t.Fatal("Expected a new key to be generated")
	}
	if err := g.Check(ctx, "kitchen", first); !models.ErrUnauthorized.Has(err) {
		t.Errorf("Expected old key to fail Check, got %v", err)
	}
	if err := g.Check(ctx, "kitchen", second); err != nil {
		t.Errorf("Expected new key to pass Check, got %v", err)
	}
}

// TestIssueLosesRace installs a competing key between the read and the write.
func TestIssueLosesRace(t *testing.T) {
	ctx := context.Background()
	keys := newMemKeys()
	g := NewGate(keys, time.Hour)
	g.generate = func() (string, error) {
		keys.mu.Lock()
		keys.keys["kitchen"] = "competitor"
		keys.mu.Unlock()
		return "mine", nil
	}

	if _, err := g.Issue(ctx, "kitchen", ""); !models.ErrForbidden.Has(err) {
		t.Fatalf("Expected Forbidden after losing the race, got %v", err)
	}
	if err := g.Check(ctx, "kitchen", "competitor"); err != nil {
		t.Errorf("Expected the competing key to stay installed, got %v", err)
	}
}

func TestConcurrentReissueSingleWinner(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemKeys(), time.Hour)
	first, err := g.Issue(ctx, "kitchen", "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if key, err := g.Issue(ctx, "kitchen", first); err == nil {
				results <- key
			} else if !models.ErrForbidden.Has(err) {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(results)

	var winners []string
	for key := range results {
		winners = append(winners, key)
	}
	if len(winners) != 1 {
		t.Fatalf("Expected exactly one successful reissue, got %d", len(winners))
	}
	if err := g.Check(ctx, "kitchen", winners[0]); err != nil {
		t.Errorf("Expected the returned key to be the installed one, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemKeys(), time.Hour)

	if err := g.Revoke(ctx, "kitchen", ""); !models.ErrNotFound.Has(err) {
		t.Fatalf("Expected NotFound without key, got %v", err)
	}

	key, _ := g.Issue(ctx, "kitchen", "")
	if err := g.Revoke(ctx, "kitchen", "wrong"); !models.ErrForbidden.Has(err) {
		t.Fatalf("Expected Forbidden on mismatch, got %v", err)
	}
	if err := g.Revoke(ctx, "kitchen", key); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	has, err := g.HasKey(ctx, "kitchen")
	if err != nil || has {
		t.Errorf("Expected board to be open after revoke, has=%v err=%v", has, err)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	keys := newMemKeys()
	keys.err = models.ErrUnavailable.New("redis down")
	g := NewGate(keys, time.Hour)

	if err := g.Check(ctx, "kitchen", ""); !models.ErrUnavailable.Has(err) {
		t.Errorf("Expected Unavailable from Check, got %v", err)
	}
	if _, err := g.Issue(ctx, "kitchen", ""); !models.ErrUnavailable.Has(err) {
		t.Errorf("Expected Unavailable from Issue, got %v", err)
	}
}

func TestIssueGeneratorFailure(t *testing.T) {
	g := NewGate(newMemKeys(), time.Hour)
	g.generate = func() (string, error) { return "", errors.New("entropy exhausted") }

	if _, err := g.Issue(context.Background(), "kitchen", ""); err == nil {
		t.Fatal("Expected generator error to propagate")
	}
}
