// lanclip/handlers/actions.go
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lanclip/assets"
	"lanclip/config"
	"lanclip/models"
	"lanclip/utils"
)

// entryRequest is the body of POST /b/{slug}/entries. For images, Content
// holds the base64 encoded file.
type entryRequest struct {
	Type    models.EntryType `json:"type"`
	Content string           `json:"content"`
	Mime    string           `json:"mime"`
}

type entryResponse struct {
	ID        string           `json:"id"`
	Type      models.EntryType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

// maxBodyBytes bounds the request body: base64 inflates by 4/3, plus room
// for the JSON envelope.
func maxBodyBytes(app App) int64 {
	limit := app.Config().MaxUploadBytes()*4/3 + 4096
	if text := int64(config.MaxTextLen)*6 + 4096; text > limit {
		// worst case JSON escaping of a maximal text entry
		limit = text
	}
	return limit
}

// HandleCreateEntry adds a text or image entry to the board.
func HandleCreateEntry(w http.ResponseWriter, r *http.Request, app App) {
	slug, key := boardParams(r)
	logger := app.Logger().With("handler", "HandleCreateEntry", "board", slug)

	var req entryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes(app))
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, app, logger, models.ErrPayloadTooLarge.New("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(w, r, app, logger, models.ErrInvalid.New("malformed JSON body: %v", err))
		return
	}

	entry := models.Entry{
		ID:        uuid.NewString(),
		Type:      req.Type,
		CreatedAt: utils.GetTime(),
	}
	var image []byte

	switch req.Type {
	case models.EntryText:
		if req.Content == "" {
			respondError(w, r, app, logger, models.ErrInvalid.New("content required for text entries"))
			return
		}
		if len(req.Content) > config.MaxTextLen {
			respondError(w, r, app, logger, models.ErrPayloadTooLarge.New("text exceeds %d bytes", config.MaxTextLen))
			return
		}
		entry.Content = req.Content
	case models.EntryImage:
		if req.Content == "" || req.Mime == "" {
			respondError(w, r, app, logger, models.ErrInvalid.New("content and mime required for image entries"))
			return
		}
		if !assets.Supported(req.Mime) {
			respondError(w, r, app, logger, models.ErrUnsupportedMediaType.New("%q is not an accepted image type", req.Mime))
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			respondError(w, r, app, logger, models.ErrInvalid.New("invalid base64 content"))
			return
		}
		if int64(len(data)) > app.Config().MaxUploadBytes() {
			respondError(w, r, app, logger, models.ErrPayloadTooLarge.New("image too large (max %d MB)", app.Config().MaxUploadMB))
			return
		}
		entry.Mime = req.Mime
		image = data
	default:
		respondError(w, r, app, logger, models.ErrInvalid.New("type must be text or image"))
		return
	}

	stored, err := app.Clipboard().Add(r.Context(), slug, entry, image, func(e models.Entry) (string, error) {
		return renderEntry(slug, key, e)
	})
	if err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	logger.Info("Entry created", "entry_id", stored.ID, "type", stored.Type)

	if r.Header.Get("HX-Request") != "" {
		fragment, err := renderEntry(slug, key, stored)
		if err != nil {
			respondError(w, r, app, logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(fragment)); err != nil {
			logger.Warn("Failed to write fragment", "error", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, entryResponse{ID: stored.ID, Type: stored.Type, CreatedAt: stored.CreatedAt}, app)
}

// HandleDeleteEntry removes an entry and its image.
func HandleDeleteEntry(w http.ResponseWriter, r *http.Request, app App) {
	slug, _ := boardParams(r)
	id := chi.URLParam(r, "id")
	logger := app.Logger().With("handler", "HandleDeleteEntry", "board", slug, "entry_id", id)

	if err := app.Clipboard().Remove(r.Context(), slug, id); err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	logger.Info("Entry deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleImage serves the original image inline.
func HandleImage(w http.ResponseWriter, r *http.Request, app App) {
	serveImage(w, r, app, false)
}

// HandleDownload serves the original image as an attachment.
func HandleDownload(w http.ResponseWriter, r *http.Request, app App) {
	serveImage(w, r, app, true)
}

func serveImage(w http.ResponseWriter, r *http.Request, app App, attachment bool) {
	slug, _ := boardParams(r)
	id := chi.URLParam(r, "id")
	logger := app.Logger().With("handler", "serveImage", "board", slug, "entry_id", id)

	entry, data, err := app.Clipboard().OpenImage(r.Context(), slug, id)
	if err != nil {
		respondError(w, r, app, logger, err)
		return
	}

	mime := entry.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(entry)+`"`)
	} else {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	}
	if _, err := w.Write(data); err != nil {
		logger.Warn("Failed to write image", "error", err)
	}
}

// downloadName derives a readable file name from the entry's creation time,
// e.g. clipboard_2026-10-01T12-00-00.png.
func downloadName(entry models.Entry) string {
	ext := entry.ImagePath[strings.LastIndexByte(entry.ImagePath, '.')+1:]
	return "clipboard_" + entry.CreatedAt.UTC().Format("2006-01-02T15-04-05") + "." + ext
}
