// Package memory provides an in-memory Store used by tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/store"
)

// Store keeps all records and groups in maps. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	photos map[string]store.PhotoRecord
	groups []store.DuplicateGroup
	lockID string

	// SaveHook, when set, runs before each SavePhoto commit. Tests use it
	// to simulate crashes between fingerprinting and persistence.
	SaveHook func(rec store.PhotoRecord) error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{photos: make(map[string]store.PhotoRecord)}
}

func (s *Store) SavePhoto(_ context.Context, rec store.PhotoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveHook != nil {
		if err := s.SaveHook(rec); err != nil {
			return err
		}
	}
	s.photos[rec.ID] = rec
	return nil
}

func (s *Store) GetPhoto(_ context.Context, id string) (*store.PhotoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.photos[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) ListPhotos(_ context.Context) ([]store.PhotoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]store.PhotoRecord, 0, len(s.photos))
	for _, rec := range s.photos {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *Store) ScanStates(_ context.Context) (map[string]store.ScanState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]store.ScanState, len(s.photos))
	for id, rec := range s.photos {
		states[id] = store.ScanState{ModMarker: rec.ModMarker, LastScannedAt: rec.LastScannedAt}
	}
	return states, nil
}

func (s *Store) PhotoCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.photos), nil
}

func (s *Store) ReplaceGroups(_ context.Context, groups []store.DuplicateGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make([]store.DuplicateGroup, len(groups))
	copy(s.groups, groups)
	sort.Slice(s.groups, func(i, j int) bool { return s.groups[i].GroupID < s.groups[j].GroupID })
	return nil
}

func (s *Store) ListGroups(_ context.Context) ([]store.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err := store.ValidateGroups(s.groups, func(id string) bool {
		_, ok := s.photos[id]
		return ok
	})
	if err != nil {
		return nil, err
	}
	groups := make([]store.DuplicateGroup, len(s.groups))
	copy(groups, s.groups)
	return groups, nil
}

func (s *Store) AcquireRunLock(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockID != "" && s.lockID != runID {
		return store.ErrLocked
	}
	s.lockID = runID
	return nil
}

func (s *Store) ReleaseRunLock(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockID == runID {
		s.lockID = ""
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// DeletePhoto removes a record directly, bypassing the engine. Tests use it
// to fabricate inconsistent states.
func (s *Store) DeletePhoto(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.photos, id)
}
