package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/editor-gateway/pkg/errlog"
)

const errorsLogPrefix = "db:errors"

// ErrorRepository stores reported errors in the error_records table. It implements errlog.Store.
type ErrorRepository struct {
	pool *pgxpool.Pool
}

var _ errlog.Store = (*ErrorRepository)(nil)

// NewErrorRepository creates an ErrorRepository with the given connection pool.
func NewErrorRepository(pool *pgxpool.Pool) *ErrorRepository {
	return &ErrorRepository{pool: pool}
}

// SaveError inserts rec. Saving an id twice keeps the first row.
func (r *ErrorRepository) SaveError(ctx context.Context, rec errlog.Record) error {
	contextJSON, err := encodeContext(rec.Context)
	if err != nil {
		return fmt.Errorf("%s - encode context of %s: %w", errorsLogPrefix, rec.ID, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO error_records (id, kind, message, context, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Kind, rec.Message, contextJSON, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%s - insert %s: %w", errorsLogPrefix, rec.ID, err)
	}
	return nil
}

// GetError returns the record with the given id, or nil when there is none.
func (r *ErrorRepository) GetError(ctx context.Context, id string) (*errlog.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, kind, message, context, occurred_at
		 FROM error_records
		 WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get %s: %w", errorsLogPrefix, id, err)
	}
	return rec, nil
}

// RecentErrors returns up to limit records, newest first, optionally restricted to one kind.
func (r *ErrorRepository) RecentErrors(ctx context.Context, limit int, kind string) ([]errlog.Record, error) {
	if limit < 1 {
		limit = 10
	}
	query := `SELECT id, kind, message, context, occurred_at FROM error_records`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - list: %w", errorsLogPrefix, err)
	}
	defer rows.Close()

	out := []errlog.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - scan: %w", errorsLogPrefix, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountErrors returns the number of stored records.
func (r *ErrorRepository) CountErrors(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM error_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s - count: %w", errorsLogPrefix, err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (r *ErrorRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (*errlog.Record, error) {
	var rec errlog.Record
	var contextJSON []byte
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Message, &contextJSON, &rec.Timestamp); err != nil {
		return nil, err
	}
	ctxMap, err := decodeContext(contextJSON)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - record %s has unreadable context: %v", errorsLogPrefix, rec.ID, err))
	}
	rec.Context = ctxMap
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

func encodeContext(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	return json.Marshal(m)
}

func decodeContext(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}
