// lanclip/models/models.go
package models

import (
	"sort"
	"time"
)

// --- Core Data Models ---

type EntryType string

const (
	EntryText  EntryType = "text"
	EntryImage EntryType = "image"
)

// Entry is one immutable item on a board. Text entries carry Content; image
// entries carry ImagePath, Mime and FileSize, and optionally a Thumbnail.
type Entry struct {
	ID        string    `json:"id"`
	Type      EntryType `json:"type"`
	Content   string    `json:"content,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"` // base64 JPEG
	Mime      string    `json:"mime,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsImage reports whether the entry references a stored asset.
func (e Entry) IsImage() bool {
	return e.Type == EntryImage && e.ImagePath != ""
}

// Validate checks the per-type field presence rules.
func (e Entry) Validate() error {
	if e.ID == "" {
		return ErrInvalid.New("entry id is required")
	}
	if e.CreatedAt.IsZero() {
		return ErrInvalid.New("entry %s has no creation time", e.ID)
	}
	switch e.Type {
	case EntryText:
		if e.Content == "" {
			return ErrInvalid.New("content required for text entries")
		}
		if e.ImagePath != "" || e.Thumbnail != "" {
			return ErrInvalid.New("text entry %s carries image fields", e.ID)
		}
	case EntryImage:
		if e.ImagePath == "" || e.Mime == "" {
			return ErrInvalid.New("image entry %s is missing its asset", e.ID)
		}
		if e.Content != "" {
			return ErrInvalid.New("image entry %s carries text content", e.ID)
		}
	default:
		return ErrInvalid.New("unknown entry type %q", e.Type)
	}
	return nil
}

// BoardSummary is the derived listing view of a board. Nothing here is stored.
type BoardSummary struct {
	Slug         string     `json:"slug"`
	EntryCount   int        `json:"entry_count"`
	LastActivity *time.Time `json:"last_activity"`
	HasKey       bool       `json:"has_key"`
}

// SortBoards orders boards by last activity, newest first. Boards without
// activity go last.
func SortBoards(boards []BoardSummary) {
	sort.SliceStable(boards, func(i, j int) bool {
		a, b := boards[i].LastActivity, boards[j].LastActivity
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// --- Live Events ---

type EventKind string

const (
	EventNewEntry    EventKind = "new_entry"
	EventDeleteEntry EventKind = "delete_entry"
)

// Event is a change notification. Data is already rendered for display.
type Event struct {
	Kind EventKind `json:"event"`
	Data string    `json:"data"`
}
