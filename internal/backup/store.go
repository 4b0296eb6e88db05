// Package backup is the file-backup collaborator consumed by the rollback
// engine. It stores point-in-time copies of workspace files under the agent
// state dir and indexes them in a local SQLite database; callers only ever
// see opaque backup identifiers.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates an unknown backup identifier.
var ErrNotFound = errors.New("backup not found")

// Store issues and replays file backups. Safe for concurrent use; the
// database handle is capped at one open connection (same trade-off as the
// rest of the agent's local SQLite stores).
type Store struct {
	db      *sql.DB
	blobDir string
}

func Open(stateDir string) (*Store, error) {
	stateDir = strings.TrimSpace(stateDir)
	if stateDir == "" {
		return nil, errors.New("missing state dir")
	}
	dir := filepath.Join(stateDir, "backups")
	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, blobDir: blobDir}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS backups (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	absent INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	mode INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_path ON backups(path);
`)
	return err
}

// Backup records the current state of path and returns an opaque id. Backing
// up a file that does not exist yet records an absent marker, so a later
// Restore removes whatever was created in its place.
func (s *Store) Backup(ctx context.Context, path string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("backup store closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return "", errors.New("missing backup path")
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	info, err := os.Lstat(path)
	switch {
	case err == nil && info.Mode().IsRegular():
		size, copyErr := copyFile(path, s.blobPath(id), info.Mode().Perm())
		if copyErr != nil {
			return "", copyErr
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO backups (id, path, absent, size, mode, created_at_unix_ms) VALUES (?, ?, 0, ?, ?, ?)`,
			id, path, size, int64(info.Mode().Perm()), now)
		if err != nil {
			_ = os.Remove(s.blobPath(id))
			return "", err
		}
		return id, nil
	case errors.Is(err, os.ErrNotExist):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO backups (id, path, absent, size, mode, created_at_unix_ms) VALUES (?, ?, 1, 0, 0, ?)`,
			id, path, now)
		if err != nil {
			return "", err
		}
		return id, nil
	case err != nil:
		return "", err
	default:
		return "", fmt.Errorf("unsupported file type: %s", path)
	}
}

// Restore puts the file recorded under id back in place. Restoring an absent
// marker deletes the file; a missing target is not an error in that case.
func (s *Store) Restore(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("backup store closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}

	var path string
	var absent int
	var mode int64
	err := s.db.QueryRowContext(ctx,
		`SELECT path, absent, mode FROM backups WHERE id = ?`, id).Scan(&path, &absent, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	if absent != 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	perm := os.FileMode(mode)
	if perm == 0 {
		perm = 0o600
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := copyFile(s.blobPath(id), path, perm); err != nil {
		return err
	}
	return nil
}

// Lookup returns the recorded path for an id. Used for reporting only.
func (s *Store) Lookup(ctx context.Context, id string) (path string, absent bool, err error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("backup store closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var absentInt int
	err = s.db.QueryRowContext(ctx,
		`SELECT path, absent FROM backups WHERE id = ?`, strings.TrimSpace(id)).Scan(&path, &absentInt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", false, err
	}
	return path, absentInt != 0, nil
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.blobDir, id)
}

func copyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}
