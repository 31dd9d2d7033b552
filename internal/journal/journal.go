// Package journal durably records temporary group indexes in SQLite so that
// a restarted process can remove the directories its predecessor left behind.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
	"github.com/Aman-CERP/amanrepo/internal/merger"
)

var _ merger.Journal = (*Journal)(nil)

// Journal is a SQLite-backed merger.Journal.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens or creates the journal at path.
// If path is empty, an in-memory journal is created for testing.
func Open(path string) (*Journal, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeFilePermission,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInternal, "failed to open journal", err).
			WithDetail("path", path)
	}

	// Single writer; an in-memory database also lives only as long as its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, amerrors.New(amerrors.ErrCodeInternal, "failed to set pragma", err).
				WithDetail("pragma", pragma)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "failed to initialize journal schema", err).
			WithDetail("path", path)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS temporary_indexes (
		index_id   TEXT PRIMARY KEY,
		group_id   TEXT NOT NULL,
		directory  TEXT NOT NULL,
		ttl_ns     INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Path returns the journal file, or "" for an in-memory journal.
func (j *Journal) Path() string {
	return j.path
}

// Record inserts entry, replacing any row with the same index ID.
func (j *Journal) Record(ctx context.Context, entry merger.TemporaryGroupIndex) error {
	if err := j.check(); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO temporary_indexes (index_id, group_id, directory, ttl_ns, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_id) DO UPDATE SET
			group_id = excluded.group_id,
			directory = excluded.directory,
			ttl_ns = excluded.ttl_ns,
			created_at = excluded.created_at`,
		entry.IndexID, entry.GroupID, entry.Directory, int64(entry.TTL), entry.CreatedAt.UnixNano())
	if err != nil {
		return amerrors.New(amerrors.ErrCodeInternal, "failed to record temporary index", err).
			WithDetail("index_id", entry.IndexID)
	}
	return nil
}

// Forget deletes the row with indexID. Forgetting an unknown ID is not an error.
func (j *Journal) Forget(ctx context.Context, indexID string) error {
	if err := j.check(); err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, "DELETE FROM temporary_indexes WHERE index_id = ?", indexID); err != nil {
		return amerrors.New(amerrors.ErrCodeInternal, "failed to forget temporary index", err).
			WithDetail("index_id", indexID)
	}
	return nil
}

// Pending returns every recorded entry, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]merger.TemporaryGroupIndex, error) {
	if err := j.check(); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT index_id, group_id, directory, ttl_ns, created_at
		FROM temporary_indexes
		ORDER BY created_at, index_id`)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInternal, "failed to list temporary indexes", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []merger.TemporaryGroupIndex
	for rows.Next() {
		var (
			e         merger.TemporaryGroupIndex
			ttl       int64
			createdAt int64
		)
		if err := rows.Scan(&e.IndexID, &e.GroupID, &e.Directory, &ttl, &createdAt); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeInternal, "failed to read temporary index row", err)
		}
		e.TTL = time.Duration(ttl)
		e.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInternal, "failed to list temporary indexes", err)
	}
	return entries, nil
}

// Close closes the journal. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	// Checkpoint before close to ensure durability
	_, _ = j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return j.db.Close()
}

func (j *Journal) check() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return amerrors.New(amerrors.ErrCodeInternal, "journal is closed", nil)
	}
	return nil
}
