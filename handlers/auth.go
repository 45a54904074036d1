package handlers

import (
	"net/http"
)

// HandleGenerateKey sets a new board key. A board that already has a key
// only accepts the request when the current key is supplied.
func HandleGenerateKey(w http.ResponseWriter, r *http.Request, app App) {
	slug, key := boardParams(r)
	logger := app.Logger().With("handler", "HandleGenerateKey", "board", slug)

	newKey, err := app.Gate().Issue(r.Context(), slug, key)
	if err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	logger.Info("Board key issued")
	respondJSON(w, http.StatusOK, map[string]string{"key": newKey}, app)
}

// HandleRevokeKey removes the board key; the current key must be supplied.
func HandleRevokeKey(w http.ResponseWriter, r *http.Request, app App) {
	slug, key := boardParams(r)
	logger := app.Logger().With("handler", "HandleRevokeKey", "board", slug)

	if err := app.Gate().Revoke(r.Context(), slug, key); err != nil {
		respondError(w, r, app, logger, err)
		return
	}
	logger.Info("Board key removed")
	w.WriteHeader(http.StatusNoContent)
}
