// lanclip/handlers/handlers.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lanclip/access"
	"lanclip/clipboard"
	"lanclip/config"
	"lanclip/models"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	Clipboard() *clipboard.Service
	Gate() *access.Gate
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
	Config() *config.Config
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// statusFor maps an error class to the HTTP status the client sees.
func statusFor(err error) int {
	switch {
	case models.ErrUnauthorized.Has(err):
		return http.StatusUnauthorized
	case models.ErrForbidden.Has(err):
		return http.StatusForbidden
	case models.ErrNotFound.Has(err):
		return http.StatusNotFound
	case models.ErrPayloadTooLarge.Has(err):
		return http.StatusRequestEntityTooLarge
	case models.ErrUnsupportedMediaType.Has(err):
		return http.StatusUnsupportedMediaType
	case models.ErrInvalid.Has(err):
		return http.StatusBadRequest
	case models.ErrSuperseded.Has(err):
		return http.StatusConflict
	case models.ErrUnavailable.Has(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Server-side failures are logged and
// their details withheld from the client.
func respondError(w http.ResponseWriter, r *http.Request, app App, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.Info("Client went away", "error", err)
		return
	}

	status := statusFor(err)
	message := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		logger.Error("Backing store unavailable", "error", err)
		message = "Service temporarily unavailable."
	case status >= 500:
		logger.Error("Request failed", "error", err)
		message = "Internal server error."
	default:
		logger.Info("Request rejected", "status", status, "error", err)
	}
	respondJSON(w, status, map[string]string{"error": message}, app)
}

// MakeHandler now accepts our generic App interface.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// boardParams returns the board slug and the key supplied with the request.
func boardParams(r *http.Request) (slug, key string) {
	return chi.URLParam(r, "slug"), r.URL.Query().Get("key")
}

// HandleHealth reports whether the backing store answers.
func HandleHealth(w http.ResponseWriter, r *http.Request, app App) {
	if err := app.Clipboard().Ping(r.Context()); err != nil {
		app.Logger().Error("Health check failed", "handler", "HandleHealth", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Store unavailable"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}

// HandleListBoards returns every active board as JSON.
func HandleListBoards(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListBoards")
	boards, err := app.Clipboard().Boards(r.Context())
	if err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	respondJSON(w, http.StatusOK, boards, app)
}

// HandleHome serves the index page listing active boards.
func HandleHome(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleHome")
	boards, err := app.Clipboard().Boards(r.Context())
	if err != nil {
		logger.Error("Failed to list boards for homepage", "error", err)
		http.Error(w, "Board list unavailable.", statusFor(err))
		return
	}

	render(w, r, app, http.StatusOK, "index.html", map[string]interface{}{
		"Title":  "LAN Clipboard",
		"Boards": boards,
	})
}

// HandleBoard serves a board page, or the key prompt when the board is gated
// and the request does not carry its key.
func HandleBoard(w http.ResponseWriter, r *http.Request, app App) {
	slug, key := boardParams(r)
	logger := app.Logger().With("handler", "HandleBoard", "board", slug)

	if err := app.Gate().Check(r.Context(), slug, key); err != nil {
		if models.ErrUnauthorized.Has(err) {
			render(w, r, app, http.StatusUnauthorized, "auth_required.html", map[string]interface{}{
				"Title": slug + " - key required",
				"Slug":  slug,
			})
			return
		}
		logger.Error("Key check failed", "error", err)
		http.Error(w, "Board unavailable.", statusFor(err))
		return
	}

	entries, err := app.Clipboard().List(r.Context(), slug)
	if err != nil {
		logger.Error("Failed to list entries", "error", err)
		http.Error(w, "Board unavailable.", statusFor(err))
		return
	}
	hasKey, err := app.Gate().HasKey(r.Context(), slug)
	if err != nil {
		logger.Warn("Failed to read key state", "error", err)
	}

	render(w, r, app, http.StatusOK, "board.html", map[string]interface{}{
		"Title":   slug + " - LAN Clipboard",
		"Slug":    slug,
		"Key":     key,
		"HasKey":  hasKey,
		"Entries": entries,
	})
}
