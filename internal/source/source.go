// Package source talks to the photo library backend. The default
// implementation is an HTTP client for a PhotoPrism instance; prismdb
// offers a direct database lister for large libraries.
package source

import (
	"context"
	"fmt"
	"time"
)

// Photo is one library entry as reported by the backend listing.
type Photo struct {
	UID       string    `json:"UID"`
	Type      string    `json:"Type"`
	FileName  string    `json:"FileName"`
	Hash      string    `json:"Hash"`
	FileHash  string    `json:"FileHash"`
	Width     int       `json:"Width"`
	Height    int       `json:"Height"`
	TakenAt   time.Time `json:"TakenAt"`
	EditedAt  time.Time `json:"EditedAt"`
	CheckedAt time.Time `json:"CheckedAt"`
}

// Marker returns an opaque modification marker for the photo. Any change
// to the underlying file or its edit timestamp changes the marker, which
// is what triggers reprocessing on the next scan.
func (p Photo) Marker() string {
	return fmt.Sprintf("%s|%s", p.FileHash, p.EditedAt.UTC().Format(time.RFC3339Nano))
}

// Lister enumerates the whole library.
type Lister interface {
	// ListPhotos drains the backend listing completely and returns
	// every image entry.
	ListPhotos(ctx context.Context) ([]Photo, error)
}

// ThumbnailFetcher downloads pixel data for hashing.
type ThumbnailFetcher interface {
	// FetchThumbnail returns encoded image bytes for the photo's
	// thumbnail hash.
	FetchThumbnail(ctx context.Context, thumbHash string) ([]byte, error)
}

// Source is the full backend surface the scan engine needs.
type Source interface {
	Lister
	ThumbnailFetcher
}

// PermanentError marks a fetch failure that retrying cannot fix, such as
// a photo deleted between listing and download. The scan skips the item.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent source error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// classifyStatus wraps HTTP failures so the engine can tell retryable
// from hopeless. Client errors on a single resource are permanent,
// everything else is worth retrying.
func classifyStatus(code int, err error) error {
	switch code {
	case 404, 410, 415, 422:
		return &PermanentError{Err: err}
	default:
		return err
	}
}
