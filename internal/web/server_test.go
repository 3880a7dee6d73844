package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/dedup"
	"github.com/kozaktomas/photo-dedup/internal/store"
	"github.com/kozaktomas/photo-dedup/internal/store/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()

	st := memory.New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		rec := store.PhotoRecord{
			ID:            id,
			FileName:      id + ".jpg",
			CaptureTime:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			ModMarker:     "m",
			ContentHash:   "hash-" + id,
			LastScannedAt: time.Now(),
		}
		if err := st.SavePhoto(ctx, rec); err != nil {
			t.Fatalf("could not seed photo: %v", err)
		}
	}
	groups := []store.DuplicateGroup{
		{GroupID: "g1", MatchKind: store.MatchExact, Members: []string{"a", "b"}},
	}
	if err := st.ReplaceGroups(ctx, groups); err != nil {
		t.Fatalf("could not seed groups: %v", err)
	}
	return st
}

func testServer(st store.Store) *Server {
	cfg := &config.Config{}
	return NewServer(cfg, st, dedup.KeepOldest, 0)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(memory.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGroupsEndpoint(t *testing.T) {
	s := testServer(seededStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var groups []store.DuplicateGroup
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != "g1" {
		t.Errorf("unexpected groups: %+v", groups)
	}
}

func TestGroupsEndpointEmptyStore(t *testing.T) {
	s := testServer(memory.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

func TestGroupsEndpointInconsistentStore(t *testing.T) {
	st := seededStore(t)
	st.DeletePhoto("b")
	s := testServer(st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for inconsistent store, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rebuild") {
		t.Errorf("expected rescan hint, got %s", rec.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := testServer(seededStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if stats["photos"] != 3 || stats["groups"] != 1 || stats["removable_copies"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestReportPage(t *testing.T) {
	s := testServer(seededStore(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "g1") {
		t.Error("report should mention the duplicate group")
	}
}
