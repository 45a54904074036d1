// Package access implements the per-board shared key gate.
//
// Board keys are a convenience against accidental access, not authentication:
// they travel in URLs and are stored in clear text.
package access

import (
	"context"
	"time"

	"lanclip/models"
	"lanclip/utils"
)

// KeyStore persists one optional key per board with its own expiry.
type KeyStore interface {
	// GetBoardKey returns "" when the board has no live key.
	GetBoardKey(ctx context.Context, slug string) (string, error)
	// SwapBoardKey sets key only if the live key still equals old ("" for
	// none) and reports whether it did.
	SwapBoardKey(ctx context.Context, slug, old, key string, ttl time.Duration) (bool, error)
	DeleteBoardKey(ctx context.Context, slug string) error
}

// Gate issues, checks and revokes board keys.
type Gate struct {
	keys     KeyStore
	ttl      time.Duration
	generate func() (string, error)
}

func NewGate(keys KeyStore, ttl time.Duration) *Gate {
	return &Gate{keys: keys, ttl: ttl, generate: utils.GenerateKey}
}

// Issue installs a fresh key when the board has none or provided matches the
// current one. The previous key stops working immediately.
func (g *Gate) Issue(ctx context.Context, slug, provided string) (string, error) {
	current, err := g.keys.GetBoardKey(ctx, slug)
	if err != nil {
		return "", err
	}
	if current != "" && !utils.KeysEqual(current, provided) {
		return "", models.ErrForbidden.New("provide the existing key to regenerate")
	}

	key, err := g.generate()
	if err != nil {
		return "", err
	}
	swapped, err := g.keys.SwapBoardKey(ctx, slug, current, key, g.ttl)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "", models.ErrForbidden.New("board key changed while issuing; reload and retry")
	}
	return key, nil
}

// Check passes when the board has no key or provided matches it.
func (g *Gate) Check(ctx context.Context, slug, provided string) error {
	current, err := g.keys.GetBoardKey(ctx, slug)
	if err != nil {
		return err
	}
	if current != "" && !utils.KeysEqual(current, provided) {
		return models.ErrUnauthorized.New("invalid or missing board key")
	}
	return nil
}

// Revoke deletes the board key. The caller must prove knowledge of it.
func (g *Gate) Revoke(ctx context.Context, slug, provided string) error {
	current, err := g.keys.GetBoardKey(ctx, slug)
	if err != nil {
		return err
	}
	if current == "" {
		return models.ErrNotFound.New("board %s has no key", slug)
	}
	if !utils.KeysEqual(current, provided) {
		return models.ErrForbidden.New("invalid key")
	}
	return g.keys.DeleteBoardKey(ctx, slug)
}

// HasKey reports whether the board is currently gated.
func (g *Gate) HasKey(ctx context.Context, slug string) (bool, error) {
	current, err := g.keys.GetBoardKey(ctx, slug)
	return current != "", err
}
