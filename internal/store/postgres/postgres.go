// Package postgres backs the store with PostgreSQL for shared deployments
// where several operators inspect the same library.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

// Advisory lock key for scan runs, shared by every scanner on the database.
const runLockKey = 0x70686f746f // "photo"

func init() {
	store.RegisterDriver("postgres", func(cfg *config.Store) (store.Store, error) {
		return Open(cfg)
	})
}

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *sql.DB

	// lockConn pins the session holding the advisory lock. Advisory locks
	// are session scoped, releasing the connection would drop the lock.
	lockConn *sql.Conn
}

// Open creates a connection pool, verifies connectivity and applies
// pending migrations.
func Open(cfg *config.Store) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) SavePhoto(ctx context.Context, rec store.PhotoRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photos
		(id, file_name, capture_time, width, height, mod_marker, content_hash, phash, dhash, last_scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			capture_time = EXCLUDED.capture_time,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			mod_marker = EXCLUDED.mod_marker,
			content_hash = EXCLUDED.content_hash,
			phash = EXCLUDED.phash,
			dhash = EXCLUDED.dhash,
			last_scanned_at = EXCLUDED.last_scanned_at`,
		rec.ID, rec.FileName, nullTime(rec.CaptureTime), rec.Width, rec.Height,
		rec.ModMarker, rec.ContentHash, rec.PHash.Hex(), rec.DHash.Hex(), rec.LastScannedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save photo %s: %w", rec.ID, err)
	}
	return nil
}

const photoColumns = "id, file_name, capture_time, width, height, mod_marker, content_hash, phash, dhash, last_scanned_at"

func (s *Store) GetPhoto(ctx context.Context, id string) (*store.PhotoRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = $1", id)
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
		var id, marker string
		var scannedAt time.Time
		if err := rows.Scan(&id, &marker, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		states[id] = store.ScanState{ModMarker: marker, LastScannedAt: scannedAt}
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
			"INSERT INTO dup_groups (group_id, match_kind) VALUES ($1, $2)", g.GroupID, string(g.MatchKind)); err != nil {
			return fmt.Errorf("insert group %s: %w", g.GroupID, err)
		}
		for _, id := range g.Members {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO dup_group_members (group_id, photo_id) VALUES ($1, $2)", g.GroupID, id); err != nil {
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

func (s *Store) AcquireRunLock(ctx context.Context, runID string) error {
	if s.lockConn != nil {
		return fmt.Errorf("run lock already held by this process")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", runLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return store.ErrLocked
	}

	s.lockConn = conn
	return nil
}

func (s *Store) ReleaseRunLock(ctx context.Context, runID string) error {
	if s.lockConn == nil {
		return nil
	}

	var released bool
	err := s.lockConn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", runLockKey).Scan(&released)
	_ = s.lockConn.Close()
	s.lockConn = nil
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.lockConn != nil {
		_ = s.lockConn.Close()
		s.lockConn = nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func scanPhoto(scan func(dest ...any) error) (*store.PhotoRecord, error) {
	var rec store.PhotoRecord
	var fileName sql.NullString
	var capture sql.NullTime
	var width, height sql.NullInt64
	var phash, dhash string

	err := scan(&rec.ID, &fileName, &capture, &width, &height,
		&rec.ModMarker, &rec.ContentHash, &phash, &dhash, &rec.LastScannedAt)
	if err != nil {
		return nil, err
	}

	rec.FileName = fileName.String
	rec.CaptureTime = capture.Time
	rec.Width = int(width.Int64)
	rec.Height = int(height.Int64)

	if rec.PHash, err = fingerprint.ParseHash256(phash); err != nil {
		return nil, fmt.Errorf("photo %s: %w", rec.ID, err)
	}
	if rec.DHash, err = fingerprint.ParseHash256(dhash); err != nil {
		return nil, fmt.Errorf("photo %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
