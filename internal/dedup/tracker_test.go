package dedup

import (
	"testing"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/source"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

func listedPhoto(uid, fileHash string) source.Photo {
	return source.Photo{
		UID:      uid,
		Type:     "image",
		FileHash: fileHash,
		EditedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPendingItems(t *testing.T) {
	listing := []source.Photo{
		listedPhoto("c", "h3"),
		listedPhoto("a", "h1"),
		listedPhoto("b", "h2"),
	}

	states := map[string]store.ScanState{
		"a": {ModMarker: listing[1].Marker()}, // unchanged
		"b": {ModMarker: "stale-marker"},      // changed
		// c never scanned
	}

	pending := PendingItems(listing, states, false)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].UID != "b" || pending[1].UID != "c" {
		t.Errorf("expected [b c] in ascending order, got [%s %s]", pending[0].UID, pending[1].UID)
	}
}

func TestPendingItemsNothingChanged(t *testing.T) {
	listing := []source.Photo{listedPhoto("a", "h1")}
	states := map[string]store.ScanState{"a": {ModMarker: listing[0].Marker()}}

	if pending := PendingItems(listing, states, false); len(pending) != 0 {
		t.Fatalf("expected no pending items, got %d", len(pending))
	}
}

func TestPendingItemsMarkerIsOpaque(t *testing.T) {
	// Any inequality triggers reprocessing, including markers that look
	// "newer" or "older". Only equality matters.
	photo := listedPhoto("a", "h1")
	for _, stale := range []string{"", "zzzz", photo.Marker() + "x"} {
		states := map[string]store.ScanState{"a": {ModMarker: stale}}
		if pending := PendingItems([]source.Photo{photo}, states, false); len(pending) != 1 {
			t.Errorf("marker %q: expected reprocess", stale)
		}
	}
}

func TestPendingItemsFull(t *testing.T) {
	listing := []source.Photo{listedPhoto("a", "h1"), listedPhoto("b", "h2")}
	states := map[string]store.ScanState{
		"a": {ModMarker: listing[0].Marker()},
		"b": {ModMarker: listing[1].Marker()},
	}

	pending := PendingItems(listing, states, true)
	if len(pending) != 2 {
		t.Fatalf("full scan should include everything, got %d", len(pending))
	}
}
