// Package store defines the persistent model of the duplicate scanner: the
// fingerprinted photo records and the duplicate-group partition derived from
// them. Concrete backends live in subpackages (sqlite, postgres, memory).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// MatchKind classifies how the members of a duplicate group relate.
type MatchKind string

const (
	// MatchExact means every pairwise relation in the group came from
	// content-hash equality (byte-identical files).
	MatchExact MatchKind = "exact"
	// MatchSimilar means at least one pair is related only by perceptual
	// distance.
	MatchSimilar MatchKind = "similar"
)

// PhotoRecord is one fingerprinted item of the source library. A record is
// written in a single atomic operation once its fingerprints are known;
// there is no partially-fingerprinted state visible to readers.
type PhotoRecord struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name,omitempty"`
	CaptureTime time.Time `json:"capture_time"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`

	// ModMarker is the source-provided modification marker recorded at the
	// last successful processing. Treated as opaque: any change makes the
	// record eligible for reprocessing.
	ModMarker string `json:"mod_marker"`

	ContentHash   string              `json:"content_hash"`
	PHash         fingerprint.Hash256 `json:"-"`
	DHash         fingerprint.Hash256 `json:"-"`
	LastScannedAt time.Time           `json:"last_scanned_at"`
}

// Fingerprints packs the record's perceptual hashes as a fingerprint result.
func (r *PhotoRecord) Fingerprints() *fingerprint.Result {
	return &fingerprint.Result{ContentHash: r.ContentHash, PHash: r.PHash, DHash: r.DHash}
}

// ScanState is the tracker's view of a persisted record.
type ScanState struct {
	ModMarker     string
	LastScannedAt time.Time
}

// DuplicateGroup is a maximal set of photo ids considered the same or
// visually equivalent. Members are sorted ascending and there are always at
// least two of them.
type DuplicateGroup struct {
	GroupID   string    `json:"group_id"`
	MatchKind MatchKind `json:"match_kind"`
	Members   []string  `json:"members"`
}

// ConsistencyError reports persisted state that violates an invariant, such
// as a group referencing a photo that does not exist. It is fatal for the
// run: repairing silently could mask data loss.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("store consistency violation: %s", e.Reason)
}

// ErrLocked is returned by AcquireRunLock when another run holds the store.
var ErrLocked = errors.New("store is locked by another run")

// Store is the persistence contract of the engine. Implementations must make
// SavePhoto atomic (fingerprints, marker and scan timestamp land together or
// not at all) and must support only a single writer at a time, guarded by
// the run lock.
type Store interface {
	// SavePhoto inserts or replaces one record atomically.
	SavePhoto(ctx context.Context, rec PhotoRecord) error
	// GetPhoto returns the record for id, or nil if absent.
	GetPhoto(ctx context.Context, id string) (*PhotoRecord, error)
	// ListPhotos returns all records ordered by id ascending.
	ListPhotos(ctx context.Context) ([]PhotoRecord, error)
	// ScanStates returns the per-id incremental scan state.
	ScanStates(ctx context.Context) (map[string]ScanState, error)
	// PhotoCount returns the number of persisted records.
	PhotoCount(ctx context.Context) (int, error)

	// ReplaceGroups transactionally replaces the whole group partition.
	ReplaceGroups(ctx context.Context, groups []DuplicateGroup) error
	// ListGroups returns the persisted partition ordered by group id. It
	// validates referential integrity and returns *ConsistencyError when a
	// group member has no photo record or a group has fewer than two members.
	ListGroups(ctx context.Context) ([]DuplicateGroup, error)

	// AcquireRunLock takes the single-writer lock, failing with ErrLocked
	// when a concurrent run holds it.
	AcquireRunLock(ctx context.Context, runID string) error
	// ReleaseRunLock drops the lock if held by runID.
	ReleaseRunLock(ctx context.Context, runID string) error

	Close() error
}

// ValidateGroups checks partition invariants against a membership set.
// Shared by backends that load groups outside SQL (memory) and by callers
// that want an explicit verification pass.
func ValidateGroups(groups []DuplicateGroup, exists func(id string) bool) error {
	for _, g := range groups {
		if len(g.Members) < 2 {
			return &ConsistencyError{Reason: fmt.Sprintf("group %s has %d members, want >= 2", g.GroupID, len(g.Members))}
		}
		for _, id := range g.Members {
			if !exists(id) {
				return &ConsistencyError{Reason: fmt.Sprintf("group %s references unknown photo %s", g.GroupID, id)}
			}
		}
	}
	return nil
}
