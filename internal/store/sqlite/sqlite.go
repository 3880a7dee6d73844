// Package sqlite is the default store backend: a single local database file,
// WAL mode, suitable for one scanner per library.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

func init() {
	store.RegisterDriver("sqlite", func(cfg *config.Store) (store.Store, error) {
		return Open(cfg.Path)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	file_name TEXT,
	capture_time TEXT,
	width INTEGER,
	height INTEGER,
	mod_marker TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	phash TEXT NOT NULL,
	dhash TEXT NOT NULL,
	last_scanned_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_photos_content_hash ON photos(content_hash);
CREATE INDEX IF NOT EXISTS idx_photos_phash ON photos(phash);
CREATE INDEX IF NOT EXISTS idx_photos_dhash ON photos(dhash);

CREATE TABLE IF NOT EXISTS dup_groups (
	group_id TEXT PRIMARY KEY,
	match_kind TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dup_group_members (
	group_id TEXT NOT NULL REFERENCES dup_groups(group_id) ON DELETE CASCADE,
	photo_id TEXT NOT NULL,
	PRIMARY KEY (group_id, photo_id)
);
CREATE INDEX IF NOT EXISTS idx_members_photo ON dup_group_members(photo_id);

CREATE TABLE IF NOT EXISTS run_lock (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	run_id TEXT NOT NULL,
	acquired_at TEXT NOT NULL
);`

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and ensures the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the writer and
	// same-process readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) SavePhoto(ctx context.Context, rec store.PhotoRecord) error {
	// Single INSERT OR REPLACE keeps fingerprints, marker and scan
	// timestamp atomic with respect to crashes.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO photos
		(id, file_name, capture_time, width, height, mod_marker, content_hash, phash, dhash, last_scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, formatTime(rec.CaptureTime), rec.Width, rec.Height,
		rec.ModMarker, rec.ContentHash, rec.PHash.Hex(), rec.DHash.Hex(), formatTime(rec.LastScannedAt),
	)
	if err != nil {
		return fmt.Errorf("save photo %s: %w", rec.ID, err)
	}
	return nil
}

const photoColumns = "id, file_name, capture_time, width, height, mod_marker, content_hash, phash, dhash, last_scanned_at"

func (s *Store) GetPhoto(ctx context.Context, id string) (*store.PhotoRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = ?", id)
	rec, err := scanPhoto(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) ListPhotos(ctx context.Context) ([]store.PhotoRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+photoColumns+" FROM photos ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var records []store.PhotoRecord
	for rows.Next() {
		rec, err := scanPhoto(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan photo row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return records, nil
}

func (s *Store) ScanStates(ctx context.Context) (map[string]store.ScanState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, mod_marker, last_scanned_at FROM photos")
	if err != nil {
		return nil, fmt.Errorf("query scan states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]store.ScanState)
	for rows.Next() {
		var id, marker, scannedAt string
		if err := rows.Scan(&id, &marker, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		states[id] = store.ScanState{ModMarker: marker, LastScannedAt: parseTime(scannedAt)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan states: %w", err)
	}
	return states, nil
}

func (s *Store) PhotoCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos").Scan(&count); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

func (s *Store) ReplaceGroups(ctx context.Context, groups []store.DuplicateGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin groups transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM dup_group_members"); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM dup_groups"); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}

	for _, g := range groups {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO dup_groups (group_id, match_kind) VALUES (?, ?)", g.GroupID, string(g.MatchKind)); err != nil {
			return fmt.Errorf("insert group %s: %w", g.GroupID, err)
		}
		for _, id := range g.Members {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO dup_group_members (group_id, photo_id) VALUES (?, ?)", g.GroupID, id); err != nil {
				return fmt.Errorf("insert member %s of group %s: %w", id, g.GroupID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit groups: %w", err)
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]store.DuplicateGroup, error) {
	// Orphaned members are an invariant violation, not something to paper over.
	var orphan sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT gm.photo_id FROM dup_group_members gm
		LEFT JOIN photos p ON p.id = gm.photo_id
		WHERE p.id IS NULL LIMIT 1`).Scan(&orphan)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check group integrity: %w", err)
	}
	if err == nil {
		return nil, &store.ConsistencyError{Reason: fmt.Sprintf("group references unknown photo %s", orphan.String)}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.group_id, g.match_kind, gm.photo_id
		FROM dup_groups g
		JOIN dup_group_members gm ON gm.group_id = g.group_id
		ORDER BY g.group_id, gm.photo_id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []store.DuplicateGroup
	for rows.Next() {
		var groupID, kind, photoID string
		if err := rows.Scan(&groupID, &kind, &photoID); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].GroupID != groupID {
			groups = append(groups, store.DuplicateGroup{GroupID: groupID, MatchKind: store.MatchKind(kind)})
		}
		last := &groups[len(groups)-1]
		last.Members = append(last.Members, photoID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	for _, g := range groups {
		if len(g.Members) < 2 {
			return nil, &store.ConsistencyError{Reason: fmt.Sprintf("group %s has %d members, want >= 2", g.GroupID, len(g.Members))}
		}
	}
	return groups, nil
}

// runLockTTL bounds how long a lock row is honored. A crashed run cannot
// release its row, so a row older than this is taken over on the next acquire.
const runLockTTL = 6 * time.Hour

func (s *Store) AcquireRunLock(ctx context.Context, runID string) error {
	if err := s.clearStaleRunLock(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO run_lock (id, run_id, acquired_at) VALUES (1, ?, ?)",
		runID, formatTime(time.Now().UTC()))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return store.ErrLocked
		}
		return fmt.Errorf("acquire run lock: %w", err)
	}
	return nil
}

func (s *Store) clearStaleRunLock(ctx context.Context) error {
	var acquired string
	err := s.db.QueryRowContext(ctx, "SELECT acquired_at FROM run_lock WHERE id = 1").Scan(&acquired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect run lock: %w", err)
	}
	if time.Since(parseTime(acquired)) < runLockTTL {
		return nil
	}
	// Delete keyed on acquired_at so a concurrent fresh holder is untouched.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM run_lock WHERE id = 1 AND acquired_at = ?", acquired); err != nil {
		return fmt.Errorf("clear stale run lock: %w", err)
	}
	return nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1 AND run_id = ?", runID); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func scanPhoto(scan func(dest ...any) error) (*store.PhotoRecord, error) {
	var rec store.PhotoRecord
	var capture, scanned, phash, dhash string
	var fileName sql.NullString
	var width, height sql.NullInt64

	err := scan(&rec.ID, &fileName, &capture, &width, &height,
		&rec.ModMarker, &rec.ContentHash, &phash, &dhash, &scanned)
	if err != nil {
		return nil, err
	}

	rec.FileName = fileName.String
	rec.Width = int(width.Int64)
	rec.Height = int(height.Int64)
	rec.CaptureTime = parseTime(capture)
	rec.LastScannedAt = parseTime(scanned)

	if rec.PHash, err = fingerprint.ParseHash256(phash); err != nil {
		return nil, fmt.Errorf("photo %s: %w", rec.ID, err)
	}
	if rec.DHash, err = fingerprint.ParseHash256(dhash); err != nil {
		return nil, fmt.Errorf("photo %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
