package models

import "github.com/zeebo/errs"

// Error classes shared by every layer. Callers test with Class.Has and the
// HTTP layer maps each class to a status code.
var (
	ErrUnauthorized         = errs.Class("unauthorized")
	ErrForbidden            = errs.Class("forbidden")
	ErrNotFound             = errs.Class("not found")
	ErrPayloadTooLarge      = errs.Class("payload too large")
	ErrUnsupportedMediaType = errs.Class("unsupported media type")
	ErrCorrupt              = errs.Class("corrupt record")
	ErrUnavailable          = errs.Class("store unavailable")
	ErrInvalid              = errs.Class("invalid")
	// ErrSuperseded marks an entry trimmed by its own insert.
	ErrSuperseded           = errs.Class("superseded")
)
