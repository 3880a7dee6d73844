package dedup

import (
	"fmt"

	"github.com/kozaktomas/photo-dedup/internal/store"
)

// KeepPolicy decides which member of a duplicate group to keep when the
// rest are removed.
type KeepPolicy string

const (
	// KeepOldest keeps the earliest capture, presumably the original.
	KeepOldest KeepPolicy = "oldest"
	// KeepNewest keeps the latest capture.
	KeepNewest KeepPolicy = "newest"
	// KeepLargest keeps the photo with the most pixels.
	KeepLargest KeepPolicy = "largest"
)

// ParseKeepPolicy validates a policy name from a flag.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch KeepPolicy(s) {
	case KeepOldest, KeepNewest, KeepLargest:
		return KeepPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown keep policy %q, want oldest, newest or largest", s)
	}
}

// Pick returns the id of the member to keep. Ties fall back to the
// smallest id so the choice is deterministic.
func (p KeepPolicy) Pick(members []store.PhotoRecord) string {
	if len(members) == 0 {
		return ""
	}

	best := members[0]
	for _, m := range members[1:] {
		if p.better(m, best) {
			best = m
		}
	}
	return best.ID
}

func (p KeepPolicy) better(a, b store.PhotoRecord) bool {
	switch p {
	case KeepNewest:
		if !a.CaptureTime.Equal(b.CaptureTime) {
			return a.CaptureTime.After(b.CaptureTime)
		}
	case KeepLargest:
		pa, pb := a.Width*a.Height, b.Width*b.Height
		if pa != pb {
			return pa > pb
		}
	default: // KeepOldest
		if !a.CaptureTime.Equal(b.CaptureTime) {
			return a.CaptureTime.Before(b.CaptureTime)
		}
	}
	return a.ID < b.ID
}
