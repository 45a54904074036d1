package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"lanclip/config"
	"lanclip/models"
)

// HandleStream relays board events to the client as Server-Sent Events until
// the client disconnects or the server shuts down.
func HandleStream(w http.ResponseWriter, r *http.Request, app App) {
	slug, _ := boardParams(r)
	logger := app.Logger().With("handler", "HandleStream", "board", slug)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported.", http.StatusInternalServerError)
		return
	}

	sub, err := app.Clipboard().Subscribe(r.Context(), slug)
	if err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Warn("Failed to release subscription", "error", err)
		}
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(config.StreamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				logger.Info("Stream closed by client", "error", err)
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE frame. Multi-line payloads become several data
// lines, which the client joins back with newlines.
func writeEvent(w http.ResponseWriter, event models.Event) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(event.Kind))
	b.WriteByte('\n')
	for _, line := range strings.Split(event.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := fmt.Fprint(w, b.String())
	return err
}
