// lanclip/utils/security.go
package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"regexp"

	"lanclip/config"
)

var (
	slugPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,49}$`)
	reservedSlugs = map[string]bool{
		"health": true, "docs": true, "redoc": true, "openapi.json": true,
		"static": true, "favicon.ico": true, "api": true, "b": true,
	}
)

// GetIPAddress returns the client IP from RemoteAddr. Proxy headers are only
// reflected here when the router mounts chi's RealIP middleware.
func GetIPAddress(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ValidateSlug reports whether a board name is well-formed and not reserved.
func ValidateSlug(slug string) bool {
	return !reservedSlugs[slug] && slugPattern.MatchString(slug)
}

// GenerateKey returns a URL-safe random board key.
func GenerateKey() (string, error) {
	b := make([]byte, config.KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// KeysEqual compares two board keys in constant time.
func KeysEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
