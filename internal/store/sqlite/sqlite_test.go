package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "photos.db"))
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string) store.PhotoRecord {
	var ph, dh fingerprint.Hash256
	ph.SetBit(0)
	dh.SetBit(255)
	return store.PhotoRecord{
		ID:            id,
		FileName:      id + ".jpg",
		CaptureTime:   time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Width:         4000,
		Height:        3000,
		ModMarker:     "marker-1",
		ContentHash:   "d41d8cd98f00b204e9800998ecf8427e",
		PHash:         ph,
		DHash:         dh,
		LastScannedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSaveAndGetPhoto(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := testRecord("photo-1")
	if err := s.SavePhoto(ctx, want); err != nil {
		t.Fatalf("could not save photo: %v", err)
	}

	got, err := s.GetPhoto(ctx, "photo-1")
	if err != nil {
		t.Fatalf("could not get photo: %v", err)
	}
	if got == nil {
		t.Fatal("expected photo, got nil")
	}
	if got.FileName != want.FileName || got.ContentHash != want.ContentHash {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.PHash != want.PHash || got.DHash != want.DHash {
		t.Errorf("hash round trip mismatch")
	}
	if !got.CaptureTime.Equal(want.CaptureTime) {
		t.Errorf("capture time mismatch: got %v, want %v", got.CaptureTime, want.CaptureTime)
	}
}

func TestGetPhotoMissing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetPhoto(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing photo, got %+v", got)
	}
}

func TestSavePhotoOverwrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("photo-1")
	if err := s.SavePhoto(ctx, rec); err != nil {
		t.Fatalf("could not save photo: %v", err)
	}

	rec.ModMarker = "marker-2"
	rec.ContentHash = "0000000000000000000000000000dead"
	if err := s.SavePhoto(ctx, rec); err != nil {
		t.Fatalf("could not overwrite photo: %v", err)
	}

	got, err := s.GetPhoto(ctx, "photo-1")
	if err != nil {
		t.Fatalf("could not get photo: %v", err)
	}
	if got.ModMarker != "marker-2" || got.ContentHash != rec.ContentHash {
		t.Errorf("overwrite did not stick: %+v", got)
	}

	count, err := s.PhotoCount(ctx)
	if err != nil {
		t.Fatalf("could not count photos: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 photo after overwrite, got %d", count)
	}
}

func TestListPhotosOrdered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := s.SavePhoto(ctx, testRecord(id)); err != nil {
			t.Fatalf("could not save photo %s: %v", id, err)
		}
	}

	photos, err := s.ListPhotos(ctx)
	if err != nil {
		t.Fatalf("could not list photos: %v", err)
	}
	if len(photos) != 3 {
		t.Fatalf("expected 3 photos, got %d", len(photos))
	}
	for i, want := range []string{"a", "b", "c"} {
		if photos[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, photos[i].ID, want)
		}
	}
}

func TestScanStates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("photo-1")
	if err := s.SavePhoto(ctx, rec); err != nil {
		t.Fatalf("could not save photo: %v", err)
	}

	states, err := s.ScanStates(ctx)
	if err != nil {
		t.Fatalf("could not load scan states: %v", err)
	}
	state, ok := states["photo-1"]
	if !ok {
		t.Fatal("expected scan state for photo-1")
	}
	if state.ModMarker != rec.ModMarker {
		t.Errorf("marker mismatch: got %s, want %s", state.ModMarker, rec.ModMarker)
	}
	if !state.LastScannedAt.Equal(rec.LastScannedAt) {
		t.Errorf("scanned at mismatch: got %v, want %v", state.LastScannedAt, rec.LastScannedAt)
	}
}

func TestReplaceGroupsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := s.SavePhoto(ctx, testRecord(id)); err != nil {
			t.Fatalf("could not save photo %s: %v", id, err)
		}
	}

	first := []store.DuplicateGroup{
		{GroupID: "g1", MatchKind: store.MatchExact, Members: []string{"a", "b"}},
		{GroupID: "g2", MatchKind: store.MatchSimilar, Members: []string{"c", "d"}},
	}
	if err := s.ReplaceGroups(ctx, first); err != nil {
		t.Fatalf("could not replace groups: %v", err)
	}

	// Replace swaps the whole set, nothing accrues between runs.
	second := []store.DuplicateGroup{
		{GroupID: "g3", MatchKind: store.MatchSimilar, Members: []string{"a", "b", "c"}},
	}
	if err := s.ReplaceGroups(ctx, second); err != nil {
		t.Fatalf("could not replace groups again: %v", err)
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("could not list groups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.GroupID != "g3" || g.MatchKind != store.MatchSimilar {
		t.Errorf("unexpected group: %+v", g)
	}
	if len(g.Members) != 3 || g.Members[0] != "a" || g.Members[2] != "c" {
		t.Errorf("unexpected members: %v", g.Members)
	}
}

func TestListGroupsDetectsOrphanMember(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.SavePhoto(ctx, testRecord(id)); err != nil {
			t.Fatalf("could not save photo %s: %v", id, err)
		}
	}
	groups := []store.DuplicateGroup{
		{GroupID: "g1", MatchKind: store.MatchExact, Members: []string{"a", "b"}},
	}
	if err := s.ReplaceGroups(ctx, groups); err != nil {
		t.Fatalf("could not replace groups: %v", err)
	}

	if _, err := s.db.Exec("DELETE FROM photos WHERE id = 'b'"); err != nil {
		t.Fatalf("could not delete photo: %v", err)
	}

	_, err := s.ListGroups(ctx)
	var consistency *store.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestRunLock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AcquireRunLock(ctx, "run-1"); err != nil {
		t.Fatalf("could not acquire lock: %v", err)
	}
	if err := s.AcquireRunLock(ctx, "run-2"); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	// Releasing with the wrong run id must not free the lock.
	if err := s.ReleaseRunLock(ctx, "run-2"); err != nil {
		t.Fatalf("release with wrong run id errored: %v", err)
	}
	if err := s.AcquireRunLock(ctx, "run-2"); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("expected lock still held, got %v", err)
	}

	if err := s.ReleaseRunLock(ctx, "run-1"); err != nil {
		t.Fatalf("could not release lock: %v", err)
	}
	if err := s.AcquireRunLock(ctx, "run-2"); err != nil {
		t.Fatalf("could not re-acquire released lock: %v", err)
	}
}

func TestRunLockStaleTakeover(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A crashed run leaves its lock row behind without releasing it.
	if err := s.AcquireRunLock(ctx, "crashed-run"); err != nil {
		t.Fatalf("could not acquire lock: %v", err)
	}
	if err := s.AcquireRunLock(ctx, "run-2"); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("expected fresh lock to hold, got %v", err)
	}

	// Backdate the row past the TTL to simulate the crash being long ago.
	stale := formatTime(time.Now().UTC().Add(-runLockTTL - time.Minute))
	if _, err := s.db.ExecContext(ctx, "UPDATE run_lock SET acquired_at = ? WHERE id = 1", stale); err != nil {
		t.Fatalf("could not backdate lock row: %v", err)
	}

	if err := s.AcquireRunLock(ctx, "run-2"); err != nil {
		t.Fatalf("could not take over stale lock: %v", err)
	}
	if err := s.AcquireRunLock(ctx, "run-3"); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("expected taken-over lock to hold, got %v", err)
	}
	if err := s.ReleaseRunLock(ctx, "run-2"); err != nil {
		t.Fatalf("could not release taken-over lock: %v", err)
	}
}
