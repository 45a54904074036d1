package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"lanclip/access"
	"lanclip/assets"
	"lanclip/clipboard"
	"lanclip/config"
	"lanclip/database"
	"lanclip/models"
	"lanclip/pubsub"
)

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	clipboard   *clipboard.Service
	gate        *access.Gate
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
	config      *config.Config
	db          *database.DatabaseService
	storage     *assets.LocalStorage
}

func (a *MockApplication) Clipboard() *clipboard.Service    { return a.clipboard }
func (a *MockApplication) Gate() *access.Gate               { return a.gate }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }
func (a *MockApplication) Config() *config.Config           { return a.config }

// setupTestApp creates a full application stack over a temporary SQLite
// database and upload directory.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	if err := LoadTemplates(); err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}

	cfg := &config.Config{
		Store:           "sqlite",
		EntryTTLHours:   48,
		MaxEntries:      3,
		MaxUploadMB:     1,
		RateLimitEvery:  time.Millisecond,
		RateLimitBurst:  1000,
		RateLimitPrune:  time.Hour,
		RateLimitExpire: time.Hour,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dbService, err := database.InitDB(filepath.Join(t.TempDir(), "test.db?_txlock=immediate"), cfg.MaxEntries, cfg.Retention(), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	storage, err := assets.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	app := &MockApplication{
		clipboard:   clipboard.New(dbService, pubsub.New(logger), assets.NewManager(storage, cfg.MaxUploadBytes(), logger), logger),
		gate:        access.NewGate(dbService, cfg.Retention()),
		rateLimiter: models.NewRateLimiter(cfg.RateLimitEvery, cfg.RateLimitBurst, cfg.RateLimitPrune, cfg.RateLimitExpire),
		logger:      logger,
		config:      cfg,
		db:          dbService,
		storage:     storage,
	}

	t.Cleanup(func() {
		app.db.Close()
	})
	return app
}

// do sends a request through the full router.
func do(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.168.1.20:5000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}
