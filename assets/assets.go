// Package assets owns the binary objects referenced by image entries: the
// stored original and its derived thumbnail.
package assets

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register webp decoder

	"lanclip/config"
	"lanclip/models"
)

// extensions is the MIME whitelist and the file extension each type is stored under.
var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Supported reports whether mime is on the upload whitelist.
func Supported(mime string) bool {
	_, ok := extensions[mime]
	return ok
}

// Extension returns the stored file extension for mime, or "".
func Extension(mime string) string {
	return extensions[mime]
}

// Manager creates, deletes and reconciles image assets. It never touches the
// entry store or the event bus; callers sequence those steps.
type Manager struct {
	storage  models.StorageService
	maxBytes int64
	logger   *slog.Logger
}

func NewManager(storage models.StorageService, maxBytes int64, logger *slog.Logger) *Manager {
	return &Manager{
		storage:  storage,
		maxBytes: maxBytes,
		logger:   logger.With("component", "assets"),
	}
}

// Store persists the original bytes under a locator derived from the owning
// entry id and returns that locator.
func (m *Manager) Store(ctx context.Context, id string, data []byte, mime string) (string, error) {
	if int64(len(data)) > m.maxBytes {
		return "", models.ErrPayloadTooLarge.New("image is %d bytes, limit is %d", len(data), m.maxBytes)
	}
	ext, ok := extensions[mime]
	if !ok {
		return "", models.ErrUnsupportedMediaType.New("%q is not an accepted image type", mime)
	}
	if len(data) == 0 {
		return "", models.ErrInvalid.New("image payload is empty")
	}
	if id == "" {
		return "", models.ErrInvalid.New("asset owner id is required")
	}

	locator := ImagePrefix + id + "." + ext
	if err := m.storage.Save(ctx, locator, data, mime); err != nil {
		return "", err
	}
	return locator, nil
}

// DeriveThumbnail returns a reduced-quality JPEG preview at most ThumbnailWidth
// pixels wide, or nil when the bytes cannot be decoded.
func (m *Manager) DeriveThumbnail(data []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		m.logger.Warn("Thumbnail derivation skipped", "error", err)
		return nil
	}
	if img.Bounds().Dx() > config.ThumbnailWidth {
		img = imaging.Resize(img, config.ThumbnailWidth, 0, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(config.ThumbnailQuality)); err != nil {
		m.logger.Warn("Thumbnail encoding failed", "error", err)
		return nil
	}
	return buf.Bytes()
}

// Open returns the stored original.
func (m *Manager) Open(ctx context.Context, locator string) ([]byte, error) {
	return m.storage.Read(ctx, locator)
}

// Delete removes the object; a missing object is not an error.
func (m *Manager) Delete(ctx context.Context, locator string) error {
	return m.storage.Delete(ctx, locator)
}

// Reconcile deletes every stored object whose locator is not referenced and
// returns how many were removed. Individual delete failures are logged and
// the sweep continues.
func (m *Manager) Reconcile(ctx context.Context, referenced map[string]struct{}) (int, error) {
	locators, err := m.storage.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, locator := range locators {
		if _, ok := referenced[locator]; ok {
			continue
		}
		if err := m.storage.Delete(ctx, locator); err != nil {
			m.logger.Warn("Failed to remove orphaned image", "locator", locator, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("Removed orphaned images", "count", removed, "scanned", len(locators))
	}
	return removed, nil
}
