// Package clipboard sequences the entry store, the asset manager and the event
// bus for every board operation.
package clipboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"lanclip/assets"
	"lanclip/models"
)

// RenderFunc turns a stored entry into the payload sent to live viewers.
type RenderFunc func(models.Entry) (string, error)

// Service is safe for concurrent use; all state lives in its collaborators.
type Service struct {
	store  models.EntryStore
	bus    models.EventBus
	assets *assets.Manager
	logger *slog.Logger
}

func New(store models.EntryStore, bus models.EventBus, assetManager *assets.Manager, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		assets: assetManager,
		logger: logger.With("component", "clipboard"),
	}
}

// Add stores the entry on the board and notifies live viewers. For image
// entries, image holds the original bytes; the asset is written before the
// entry so a live entry never points at a missing object. Assets of entries
// trimmed by the insert are deleted afterwards.
//
// Once the asset exists the store write and the notification are detached
// from ctx: a client going away must not leave the outcome unknown. An entry
// older than everything the full board keeps is trimmed by its own insert and
// reported as ErrSuperseded.
func (s *Service) Add(ctx context.Context, slug string, entry models.Entry, image []byte, render RenderFunc) (models.Entry, error) {
	logger := s.logger.With("board", slug, "entry_id", entry.ID)

	if entry.Type == models.EntryImage {
		locator, err := s.assets.Store(ctx, entry.ID, image, entry.Mime)
		if err != nil {
			return models.Entry{}, err
		}
		entry.ImagePath = locator
		entry.FileSize = int64(len(image))
		if thumb := s.assets.DeriveThumbnail(image); thumb != nil {
			entry.Thumbnail = base64.StdEncoding.EncodeToString(thumb)
		}
	}

	wctx := context.WithoutCancel(ctx)
	evicted, err := s.store.Insert(wctx, slug, entry)
	if err != nil {
		if entry.ImagePath != "" {
			s.discardAsset(wctx, slug, entry, err)
		}
		return models.Entry{}, err
	}
	s.releaseAssets(wctx, slug, evicted)

	for _, e := range evicted {
		if e.ID == entry.ID {
			logger.Info("Entry trimmed by its own insert", "created_at", entry.CreatedAt)
			return models.Entry{}, models.ErrSuperseded.New("entry %s is older than every entry board %s keeps", entry.ID, slug)
		}
	}

	payload, err := render(entry)
	if err != nil {
		logger.Error("Failed to render entry for live viewers", "error", err)
		return entry, nil
	}
	if err := s.bus.Publish(wctx, slug, models.EventNewEntry, payload); err != nil {
		logger.Warn("Failed to publish new entry", "error", err)
	}
	return entry, nil
}

// discardAsset deletes the asset of an entry whose insert failed, unless the
// store may still hold an entry under that id. The asset is kept when the
// store cannot confirm the entry is absent; startup reconciliation collects it.
func (s *Service) discardAsset(ctx context.Context, slug string, entry models.Entry, insertErr error) {
	logger := s.logger.With("board", slug, "entry_id", entry.ID, "locator", entry.ImagePath)

	_, err := s.store.Find(ctx, slug, entry.ID)
	switch {
	case err == nil:
		logger.Warn("Insert reported failure but the entry is live; keeping its asset", "error", insertErr)
		return
	case !models.ErrNotFound.Has(err):
		logger.Warn("Insert outcome unknown; keeping asset for reconciliation", "error", insertErr, "find_error", err)
		return
	}
	if err := s.assets.Delete(ctx, entry.ImagePath); err != nil {
		logger.Error("Failed to remove asset of rejected entry", "error", err)
	}
}

// releaseAssets deletes the stored objects of entries that left the store.
// Failures are logged; reconciliation collects anything left behind.
func (s *Service) releaseAssets(ctx context.Context, slug string, entries []models.Entry) {
	for _, e := range entries {
		if e.ImagePath == "" {
			continue
		}
		if err := s.assets.Delete(context.WithoutCancel(ctx), e.ImagePath); err != nil {
			s.logger.Warn("Failed to delete evicted asset", "board", slug, "locator", e.ImagePath, "error", err)
		}
	}
}

// Remove deletes one entry with its asset and notifies live viewers.
func (s *Service) Remove(ctx context.Context, slug, id string) error {
	removed, err := s.store.Remove(ctx, slug, id)
	if err != nil {
		return err
	}
	s.releaseAssets(ctx, slug, []models.Entry{removed})

	payload, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, slug, models.EventDeleteEntry, string(payload)); err != nil {
		s.logger.Warn("Failed to publish deletion", "board", slug, "entry_id", id, "error", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, slug string) ([]models.Entry, error) {
	return s.store.List(ctx, slug)
}

func (s *Service) Find(ctx context.Context, slug, id string) (models.Entry, error) {
	return s.store.Find(ctx, slug, id)
}

func (s *Service) Boards(ctx context.Context) ([]models.BoardSummary, error) {
	return s.store.ListBoards(ctx)
}

// OpenImage returns an image entry together with its original bytes.
func (s *Service) OpenImage(ctx context.Context, slug, id string) (models.Entry, []byte, error) {
	entry, err := s.store.Find(ctx, slug, id)
	if err != nil {
		return models.Entry{}, nil, err
	}
	if !entry.IsImage() {
		return models.Entry{}, nil, models.ErrNotFound.New("entry %s has no image", id)
	}
	data, err := s.assets.Open(ctx, entry.ImagePath)
	if err != nil {
		return models.Entry{}, nil, err
	}
	return entry, data, nil
}

func (s *Service) Subscribe(ctx context.Context, slug string) (models.Subscription, error) {
	return s.bus.Subscribe(ctx, slug)
}

// Ping reports whether the entry store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Reconcile deletes every stored asset that no live entry references. It
// must not run concurrently with Add, which writes the asset before the entry.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	referenced, err := s.store.ReferencedLocators(ctx)
	if err != nil {
		return 0, err
	}
	return s.assets.Reconcile(ctx, referenced)
}

// Sweep purges expired boards from stores that do not expire keys natively
// and deletes the assets those boards referenced.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	expirer, ok := s.store.(models.Expirer)
	if !ok {
		return 0, nil
	}
	locators, err := expirer.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, locator := range locators {
		if err := s.assets.Delete(ctx, locator); err != nil {
			s.logger.Warn("Failed to delete expired asset", "locator", locator, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunJanitor sweeps expired boards every interval until ctx is cancelled.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Expiry sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("Expiry sweep removed assets", "count", n)
			}
		}
	}
}
