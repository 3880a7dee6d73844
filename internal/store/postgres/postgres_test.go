//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

func setupTestContainer(t *testing.T) (*Store, string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, "", func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, "", func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.Store{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	s, err := Open(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		s.Close()
		container.Terminate(ctx)
	}
	return s, cfg.URL, cleanup
}

func testRecord(id string) store.PhotoRecord {
	var ph, dh fingerprint.Hash256
	ph.SetBit(1)
	dh.SetBit(200)
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

func TestPostgresStore(t *testing.T) {
	s, dbURL, cleanup := setupTestContainer(t)
	if s == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
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
		if got.PHash != want.PHash || got.DHash != want.DHash || got.ContentHash != want.ContentHash {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := s.GetPhoto(ctx, "nope")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil for missing photo, got %+v", got)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rec := testRecord("photo-1")
		rec.ModMarker = "marker-2"
		if err := s.SavePhoto(ctx, rec); err != nil {
			t.Fatalf("could not overwrite photo: %v", err)
		}

		states, err := s.ScanStates(ctx)
		if err != nil {
			t.Fatalf("could not load scan states: %v", err)
		}
		if states["photo-1"].ModMarker != "marker-2" {
			t.Errorf("upsert did not stick: %+v", states["photo-1"])
		}
	})

	t.Run("Groups", func(t *testing.T) {
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

		got, err := s.ListGroups(ctx)
		if err != nil {
			t.Fatalf("could not list groups: %v", err)
		}
		if len(got) != 1 || got[0].GroupID != "g1" || len(got[0].Members) != 2 {
			t.Errorf("unexpected groups: %+v", got)
		}
	})

	t.Run("RunLock", func(t *testing.T) {
		if err := s.AcquireRunLock(ctx, "run-1"); err != nil {
			t.Fatalf("could not acquire lock: %v", err)
		}

		// Second scanner against the same database.
		other, err := Open(&config.Store{
			URL:          dbURL,
			MaxOpenConns: 2,
			MaxIdleConns: 1,
		})
		if err != nil {
			t.Fatalf("could not open second store: %v", err)
		}
		defer other.Close()

		if err := other.AcquireRunLock(ctx, "run-2"); !errors.Is(err, store.ErrLocked) {
			t.Fatalf("expected ErrLocked, got %v", err)
		}

		if err := s.ReleaseRunLock(ctx, "run-1"); err != nil {
			t.Fatalf("could not release lock: %v", err)
		}
		if err := other.AcquireRunLock(ctx, "run-2"); err != nil {
			t.Fatalf("could not acquire released lock: %v", err)
		}
		if err := other.ReleaseRunLock(ctx, "run-2"); err != nil {
			t.Fatalf("could not release lock: %v", err)
		}
	})
}
