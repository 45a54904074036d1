package handlers

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"lanclip/utils"
)

// NewStructuredLogger logs one line per request. The query string is left
// out so board keys never reach the logs.
func NewStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request handled",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"remote_ip", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// NewSecurityHeadersMiddleware sets conservative browser security headers.
// Thumbnails are inlined as data: URIs, so img-src allows them.
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy",
				"default-src 'self'; img-src 'self' data: blob:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLAN restricts access to private or loopback IP addresses.
func RequireLAN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipStr := utils.GetIPAddress(r)
		ip := net.ParseIP(ipStr)
		if ip == nil || (!ip.IsPrivate() && !ip.IsLoopback()) {
			http.Error(w, "Forbidden: access restricted to the local network", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidBoardSlug rejects malformed or reserved board names.
func ValidBoardSlug(app App) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, _ := boardParams(r)
			if !utils.ValidateSlug(slug) {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid board name: '" + slug + "'"}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBoardKey rejects requests that do not carry the board's key.
func RequireBoardKey(app App) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, key := boardParams(r)
			if err := app.Gate().Check(r.Context(), slug, key); err != nil {
				respondError(w, r, app, app.Logger().With("middleware", "RequireBoardKey", "board", slug), err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWrites applies the per-address limiter to mutating requests.
func RateLimitWrites(app App) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.GetIPAddress(r)
			if !app.RateLimiter().GetLimiter(ip).Allow() {
				app.Logger().Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded. Please wait a moment."}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
