// Package history archives finished async operations in a local SQLite database so they can still
// be looked up after leaving the in-memory table.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/morezero/editor-gateway/pkg/async"
)

const logPrefix = "history:sqlite"

var _ async.Archive = (*Store)(nil)

// Store is a SQLite-backed operation archive. It implements async.Archive.
type Store struct {
	db         *sql.DB
	keepRecent int
}

// Open opens (creating if needed) the archive at path. keepRecent > 0 bounds the number of rows.
func Open(path string, keepRecent int) (*Store, error) {
	clean := filepath.Clean(path)
	if path == "" || clean == "." {
		return nil, fmt.Errorf("%s - invalid sqlite db path %q", logPrefix, path)
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("%s - create sqlite dir: %w", logPrefix, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(clean))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s - open sqlite: %w", logPrefix, err)
	}

	s := &Store{db: db, keepRecent: keepRecent}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - operation archive at %s", logPrefix, clean))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS operation_history (
	id TEXT PRIMARY KEY,
	command_type TEXT NOT NULL,
	status TEXT NOT NULL,
	parameters BLOB,
	result BLOB,
	error_text TEXT NOT NULL,
	error_id TEXT NOT NULL,
	progress REAL NOT NULL,
	created_at_unix_ms INTEGER NOT NULL,
	started_at_unix_ms INTEGER NOT NULL,
	completed_at_unix_ms INTEGER NOT NULL,
	archived_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operation_history_archived_at ON operation_history(archived_at_unix_ms DESC);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%s - init operation_history schema: %w", logPrefix, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveOperation upserts op.
func (s *Store) SaveOperation(ctx context.Context, op *async.Operation) error {
	params, err := encodeMap(op.Parameters)
	if err != nil {
		return fmt.Errorf("%s - encode parameters of %s: %w", logPrefix, op.ID, err)
	}
	result, err := encodeMap(op.Result)
	if err != nil {
		return fmt.Errorf("%s - encode result of %s: %w", logPrefix, op.ID, err)
	}

	const upsert = `
INSERT INTO operation_history (
	id, command_type, status, parameters, result, error_text, error_id, progress,
	created_at_unix_ms, started_at_unix_ms, completed_at_unix_ms, archived_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	command_type=excluded.command_type,
	status=excluded.status,
	parameters=excluded.parameters,
	result=excluded.result,
	error_text=excluded.error_text,
	error_id=excluded.error_id,
	progress=excluded.progress,
	created_at_unix_ms=excluded.created_at_unix_ms,
	started_at_unix_ms=excluded.started_at_unix_ms,
	completed_at_unix_ms=excluded.completed_at_unix_ms,
	archived_at_unix_ms=excluded.archived_at_unix_ms;`

	_, err = s.db.ExecContext(ctx, upsert,
		op.ID,
		op.CommandType,
		string(op.Status),
		params,
		result,
		op.Error,
		op.ErrorID,
		op.Progress,
		timeToUnixMS(op.CreatedAt),
		ptrToUnixMS(op.StartedAt),
		ptrToUnixMS(op.CompletedAt),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s - upsert operation %s: %w", logPrefix, op.ID, err)
	}

	if s.keepRecent > 0 {
		const trim = `
DELETE FROM operation_history
WHERE id NOT IN (
	SELECT id FROM operation_history
	ORDER BY archived_at_unix_ms DESC
	LIMIT ?
);`
		if _, err := s.db.ExecContext(ctx, trim, s.keepRecent); err != nil {
			return fmt.Errorf("%s - trim operation history: %w", logPrefix, err)
		}
	}
	return nil
}

// LoadOperation returns the archived operation, or nil when id is unknown.
func (s *Store) LoadOperation(ctx context.Context, id string) (*async.Operation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - load operation %s: %w", logPrefix, id, err)
	}
	return op, nil
}

// Recent returns up to limit archived operations, most recently archived first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*async.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY archived_at_unix_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list operations: %w", logPrefix, err)
	}
	defer rows.Close()

	var out []*async.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - scan operation: %w", logPrefix, err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

const selectColumns = `
SELECT id, command_type, status, parameters, result, error_text, error_id, progress,
	created_at_unix_ms, started_at_unix_ms, completed_at_unix_ms
FROM operation_history`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row scanner) (*async.Operation, error) {
	var (
		op                          async.Operation
		status                      string
		params, result              []byte
		created, started, completed int64
	)
	if err := row.Scan(&op.ID, &op.CommandType, &status, &params, &result, &op.Error, &op.ErrorID,
		&op.Progress, &created, &started, &completed); err != nil {
		return nil, err
	}
	op.Status = async.Status(status)
	op.CreatedAt = unixMSToTime(created)
	op.StartedAt = unixMSToPtr(started)
	op.CompletedAt = unixMSToPtr(completed)

	var err error
	if op.Parameters, err = decodeMap(params); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if op.Result, err = decodeMap(result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &op, nil
}

func timeToUnixMS(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UTC().UnixMilli()
}

func ptrToUnixMS(ts *time.Time) int64 {
	if ts == nil {
		return 0
	}
	return timeToUnixMS(*ts)
}

func unixMSToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func unixMSToPtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := unixMSToTime(ms)
	return &t
}
