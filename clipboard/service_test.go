package clipboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanclip/assets"
	"lanclip/database"
	"lanclip/models"
	"lanclip/pubsub"
	"lanclip/redisdb"
)

type backend struct {
	name  string
	setup func(t *testing.T, logger *slog.Logger) (models.EntryStore, models.EventBus)
}

var backends = []backend{
	{"Redis", func(t *testing.T, logger *slog.Logger) (models.EntryStore, models.EventBus) {
		mr := miniredis.RunT(t)
		client, err := redisdb.Open(context.Background(), "redis://"+mr.Addr(), 3, time.Hour, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		return client, client
	}},
	{"SQLite", func(t *testing.T, logger *slog.Logger) (models.EntryStore, models.EventBus) {
		ds, err := database.InitDB(filepath.Join(t.TempDir(), "test.db?_txlock=immediate"), 3, time.Hour, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ds.Close() })
		return ds, pubsub.New(logger)
	}},
}

type fixture struct {
	service *Service
	store   models.EntryStore
	storage *assets.LocalStorage
}

func newFixture(t *testing.T, b backend) fixture {
	return newWrappedFixture(t, b, nil)
}

// newWrappedFixture lets a test interpose on the store the service sees;
// fixture.store stays the real backend.
func newWrappedFixture(t *testing.T, b backend, wrap func(models.EntryStore) models.EntryStore) fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store, bus := b.setup(t, logger)
	storage, err := assets.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	manager := assets.NewManager(storage, 1024*1024, logger)
	seen := store
	if wrap != nil {
		seen = wrap(store)
	}
	return fixture{service: New(seen, bus, manager, logger), store: store, storage: storage}
}

// faultyStore runs insert in place of the real Insert.
type faultyStore struct {
	models.EntryStore
	insert func(ctx context.Context, slug string, entry models.Entry) ([]models.Entry, error)
}

func (s *faultyStore) Insert(ctx context.Context, slug string, entry models.Entry) ([]models.Entry, error) {
	return s.insert(ctx, slug, entry)
}

func expectNoEvent(t *testing.T, sub models.Subscription) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected %s event: %s", event.Kind, event.Data)
	case <-time.After(200 * time.Millisecond):
	}
}

func renderID(e models.Entry) (string, error) {
	return "<div id=\"" + e.ID + "\"></div>", nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{255, 0, 0, 255})
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

var clock = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newImage(i int) models.Entry {
	return models.Entry{
		ID:        uuid.NewString(),
		Type:      models.EntryImage,
		Mime:      "image/png",
		CreatedAt: clock.Add(time.Duration(i) * time.Second),
	}
}

func newText(i int) models.Entry {
	return models.Entry{
		ID:        uuid.NewString(),
		Type:      models.EntryText,
		Content:   fmt.Sprintf("text %d", i),
		CreatedAt: clock.Add(time.Duration(i) * time.Second),
	}
}

func storedLocators(t *testing.T, f fixture) []string {
	t.Helper()
	locators, err := f.storage.List(context.Background())
	require.NoError(t, err)
	return locators
}

func TestAddImage(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)

			t.Run("Valid Image Gets Preview", func(t *testing.T) {
				data := encodePNG(t, 400, 100)
				entry, err := f.service.Add(ctx, "kitchen", newImage(0), data, renderID)
				require.NoError(t, err)

				assert.Equal(t, "images/"+entry.ID+".png", entry.ImagePath)
				assert.Equal(t, int64(len(data)), entry.FileSize)
				require.NotEmpty(t, entry.Thumbnail)
				_, err = base64.StdEncoding.DecodeString(entry.Thumbnail)
				assert.NoError(t, err)

				got, data2, err := f.service.OpenImage(ctx, "kitchen", entry.ID)
				require.NoError(t, err)
				assert.Equal(t, entry.ID, got.ID)
				assert.Equal(t, data, data2)
			})

			t.Run("Undecodable Image Is Kept Without Preview", func(t *testing.T) {
				entry, err := f.service.Add(ctx, "kitchen", newImage(1), []byte("not really a png"), renderID)
				require.NoError(t, err)
				assert.Empty(t, entry.Thumbnail)

				found, err := f.service.Find(ctx, "kitchen", entry.ID)
				require.NoError(t, err)
				assert.Equal(t, entry.ImagePath, found.ImagePath)
			})

			t.Run("Rejected Payloads Leave Nothing Behind", func(t *testing.T) {
				before := storedLocators(t, f)

				e := newImage(2)
				e.Mime = "application/pdf"
				_, err := f.service.Add(ctx, "kitchen", e, []byte("%PDF"), renderID)
				assert.True(t, models.ErrUnsupportedMediaType.Has(err), "got %v", err)

				_, err = f.service.Add(ctx, "kitchen", newImage(3), make([]byte, 1024*1024+1), renderID)
				assert.True(t, models.ErrPayloadTooLarge.Has(err), "got %v", err)

				assert.Equal(t, before, storedLocators(t, f))
			})
		})
	}
}

func TestEvictionDeletesAssets(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)
			data := encodePNG(t, 8, 8)

			first, err := f.service.Add(ctx, "kitchen", newImage(0), data, renderID)
			require.NoError(t, err)
			for i := 1; i <= 3; i++ {
				_, err := f.service.Add(ctx, "kitchen", newText(i), nil, renderID)
				require.NoError(t, err)
			}

			entries, err := f.service.List(ctx, "kitchen")
			require.NoError(t, err)
			assert.Len(t, entries, 3)
			assert.NotContains(t, storedLocators(t, f), first.ImagePath)

			_, _, err = f.service.OpenImage(ctx, "kitchen", first.ID)
			assert.True(t, models.ErrNotFound.Has(err), "got %v", err)
		})
	}
}

func TestRemoveDeletesAssetAndNotifies(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)

			entry, err := f.service.Add(ctx, "kitchen", newImage(0), encodePNG(t, 8, 8), renderID)
			require.NoError(t, err)

			sub, err := f.service.Subscribe(ctx, "kitchen")
			require.NoError(t, err)
			defer sub.Close()

			require.NoError(t, f.service.Remove(ctx, "kitchen", entry.ID))
			assert.Empty(t, storedLocators(t, f))

			select {
			case event := <-sub.Events():
				assert.Equal(t, models.EventDeleteEntry, event.Kind)
				assert.JSONEq(t, `{"id":"`+entry.ID+`"}`, event.Data)
			case <-time.After(2 * time.Second):
				t.Fatal("no delete event received")
			}

			err = f.service.Remove(ctx, "kitchen", entry.ID)
			assert.True(t, models.ErrNotFound.Has(err), "got %v", err)
		})
	}
}

func TestAddNotifiesSubscribers(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)

			sub, err := f.service.Subscribe(ctx, "kitchen")
			require.NoError(t, err)
			defer sub.Close()

			first, err := f.service.Add(ctx, "kitchen", newText(0), nil, renderID)
			require.NoError(t, err)
			second, err := f.service.Add(ctx, "kitchen", newText(1), nil, renderID)
			require.NoError(t, err)

			for _, want := range []models.Entry{first, second} {
				select {
				case event := <-sub.Events():
					assert.Equal(t, models.EventNewEntry, event.Kind)
					assert.Contains(t, event.Data, want.ID)
				case <-time.After(2 * time.Second):
					t.Fatal("no new entry event received")
				}
			}
		})
	}
}

// TestBackdatedEntryOnFullBoard adds an entry older than everything a full
// board keeps; the insert trims it straight away.
func TestBackdatedEntryOnFullBoard(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)
			for i := 10; i <= 12; i++ {
				_, err := f.service.Add(ctx, "kitchen", newText(i), nil, renderID)
				require.NoError(t, err)
			}

			sub, err := f.service.Subscribe(ctx, "kitchen")
			require.NoError(t, err)
			defer sub.Close()

			old := newImage(0)
			_, err = f.service.Add(ctx, "kitchen", old, encodePNG(t, 8, 8), renderID)
			assert.True(t, models.ErrSuperseded.Has(err), "got %v", err)

			_, err = f.service.Find(ctx, "kitchen", old.ID)
			assert.True(t, models.ErrNotFound.Has(err), "got %v", err)
			assert.Empty(t, storedLocators(t, f))
			entries, err := f.service.List(ctx, "kitchen")
			require.NoError(t, err)
			assert.Len(t, entries, 3)
			expectNoEvent(t, sub)
		})
	}
}

// TestAddOutlivesCallerContext cancels the caller's context while the store
// is writing; the entry must land and viewers must hear about it.
func TestAddOutlivesCallerContext(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f := newWrappedFixture(t, b, func(inner models.EntryStore) models.EntryStore {
				return &faultyStore{EntryStore: inner, insert: func(ctx context.Context, slug string, e models.Entry) ([]models.Entry, error) {
					cancel()
					return inner.Insert(ctx, slug, e)
				}}
			})

			sub, err := f.service.Subscribe(context.Background(), "kitchen")
			require.NoError(t, err)
			defer sub.Close()

			entry, err := f.service.Add(ctx, "kitchen", newImage(0), encodePNG(t, 8, 8), renderID)
			require.NoError(t, err)

			_, data, err := f.service.OpenImage(context.Background(), "kitchen", entry.ID)
			require.NoError(t, err)
			assert.NotEmpty(t, data)

			select {
			case event := <-sub.Events():
				assert.Equal(t, models.EventNewEntry, event.Kind)
			case <-time.After(2 * time.Second):
				t.Fatal("no new entry event received")
			}
		})
	}
}

func TestFailedInsertAssetHandling(t *testing.T) {
	testCases := []struct {
		name      string
		commit    bool
		insertErr error
		wantLive  bool
	}{
		{"Committed Then Cancelled Keeps Asset", true, context.Canceled, true},
		{"Committed Then Unavailable Keeps Asset", true, models.ErrUnavailable.New("connection reset"), true},
		{"Nothing Written Deletes Asset", false, models.ErrUnavailable.New("connection refused"), false},
	}
	for _, b := range backends {
		for _, tc := range testCases {
			t.Run(b.name+"/"+tc.name, func(t *testing.T) {
				ctx := context.Background()
				f := newWrappedFixture(t, b, func(inner models.EntryStore) models.EntryStore {
					return &faultyStore{EntryStore: inner, insert: func(ctx context.Context, slug string, e models.Entry) ([]models.Entry, error) {
						if tc.commit {
							if _, err := inner.Insert(ctx, slug, e); err != nil {
								return nil, err
							}
						}
						return nil, tc.insertErr
					}}
				})

				entry := newImage(0)
				_, err := f.service.Add(ctx, "kitchen", entry, encodePNG(t, 8, 8), renderID)
				require.Error(t, err)

				found, err := f.store.Find(ctx, "kitchen", entry.ID)
				if !tc.wantLive {
					assert.True(t, models.ErrNotFound.Has(err), "got %v", err)
					assert.Empty(t, storedLocators(t, f))
					return
				}
				require.NoError(t, err)
				_, data, err := f.service.OpenImage(ctx, "kitchen", found.ID)
				require.NoError(t, err, "live entry must keep its image")
				assert.NotEmpty(t, data)
			})
		}
	}
}

func TestRenderFailureStillStores(t *testing.T) {
	f := newFixture(t, backends[1])
	ctx := context.Background()

	entry, err := f.service.Add(ctx, "kitchen", newText(0), nil, func(models.Entry) (string, error) {
		return "", fmt.Errorf("template exploded")
	})
	require.NoError(t, err)

	_, err = f.service.Find(ctx, "kitchen", entry.ID)
	assert.NoError(t, err)
}

func TestReconcileAtStartup(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b)

			live, err := f.service.Add(ctx, "kitchen", newImage(0), encodePNG(t, 8, 8), renderID)
			require.NoError(t, err)
			require.NoError(t, f.storage.Save(ctx, "images/orphan.png", []byte("x"), "image/png"))

			removed, err := f.service.Reconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			removed, err = f.service.Reconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, removed)
			assert.Equal(t, []string{live.ImagePath}, storedLocators(t, f))
		})
	}
}

func TestSweep(t *testing.T) {
	t.Run("Store With Native Expiry", func(t *testing.T) {
		f := newFixture(t, backends[0])
		n, err := f.service.Sweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Leased Store", func(t *testing.T) {
		f := newFixture(t, backends[1])
		ctx := context.Background()

		_, err := f.service.Add(ctx, "kitchen", newImage(0), encodePNG(t, 8, 8), renderID)
		require.NoError(t, err)

		// nothing has expired yet
		n, err := f.service.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, storedLocators(t, f), 1)

		_, err = f.store.(*database.DatabaseService).DB.Exec("UPDATE boards SET expires_at = 0")
		require.NoError(t, err)

		n, err = f.service.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, storedLocators(t, f))
	})
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	f := newFixture(t, backends[1])
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() { done <- f.service.RunJanitor(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
