package dedup

import (
	"sort"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Neighbor is one index hit for a radius query.
type Neighbor struct {
	ID       string
	Distance int
}

// Index holds one metric tree per hash kind and answers exact radius
// queries over all inserted photos.
type Index struct {
	mu    sync.RWMutex
	trees [fingerprint.KindCount]bkTree
	count int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Insert registers both perceptual hashes of a photo.
func (ix *Index) Insert(id string, phash, dhash fingerprint.Hash256) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.trees[fingerprint.KindPHash].insert(phash, id)
	ix.trees[fingerprint.KindDHash].insert(dhash, id)
	ix.count++
}

// QueryWithin returns every inserted photo whose hash of the given kind
// lies within threshold Hamming distance of q, ordered by distance and
// then id for determinism.
func (ix *Index) QueryWithin(kind fingerprint.Kind, q fingerprint.Hash256, threshold int) []Neighbor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []Neighbor
	ix.trees[kind].within(q, threshold, func(id string, distance int) {
		hits = append(hits, Neighbor{ID: id, Distance: distance})
	})

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

// Len returns the number of inserted photos.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}
