package dedup

import (
	"testing"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/store"
)

func TestKeepPolicyPick(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
	}
	members := []store.PhotoRecord{
		{ID: "b", CaptureTime: day(2), Width: 4000, Height: 3000},
		{ID: "a", CaptureTime: day(3), Width: 1000, Height: 800},
		{ID: "c", CaptureTime: day(1), Width: 2000, Height: 1500},
	}

	tests := []struct {
		policy KeepPolicy
		want   string
	}{
		{KeepOldest, "c"},
		{KeepNewest, "a"},
		{KeepLargest, "b"},
	}

	for _, tc := range tests {
		t.Run(string(tc.policy), func(t *testing.T) {
			if got := tc.policy.Pick(members); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestKeepPolicyTieBreaksOnID(t *testing.T) {
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []store.PhotoRecord{
		{ID: "z", CaptureTime: same},
		{ID: "a", CaptureTime: same},
	}
	if got := KeepOldest.Pick(members); got != "a" {
		t.Errorf("tie should fall to smallest id, got %s", got)
	}
}

func TestParseKeepPolicy(t *testing.T) {
	if _, err := ParseKeepPolicy("oldest"); err != nil {
		t.Errorf("oldest should parse: %v", err)
	}
	if _, err := ParseKeepPolicy("random"); err == nil {
		t.Error("unknown policy should fail")
	}
}
