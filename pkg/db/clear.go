package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearErrors deletes every durable error record and returns how many were removed. The schema is
// preserved.
func ClearErrors(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	slog.Info(fmt.Sprintf("%s - Clearing error records", clearLogPrefix))

	tag, err := pool.Exec(ctx, `DELETE FROM error_records`)
	if err != nil {
		return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Removed %d error records", clearLogPrefix, tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
