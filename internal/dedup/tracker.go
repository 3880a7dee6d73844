package dedup

import (
	"sort"

	"github.com/kozaktomas/photo-dedup/internal/source"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

// PendingItems diffs a fully drained library listing against the
// persisted scan states and returns the photos that need processing:
// entries never seen before and entries whose modification marker no
// longer matches. Markers are opaque, any inequality means reprocess.
// With full set, every listed photo is returned regardless of state.
//
// The result is ordered by ascending id so runs over the same library
// are deterministic.
func PendingItems(listing []source.Photo, states map[string]store.ScanState, full bool) []source.Photo {
	var pending []source.Photo
	for _, p := range listing {
		if full {
			pending = append(pending, p)
			continue
		}
		state, ok := states[p.UID]
		if !ok || state.ModMarker != p.Marker() {
			pending = append(pending, p)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UID < pending[j].UID
	})
	return pending
}
