package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

// GetCursor retrieves the saved ingest cursor for a service.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the ingest cursor for a service.
func (s *Store) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		service, cursor, millis(time.Now()),
	)
	if err != nil {
		return &domain.WriteError{Op: "update cursor", Err: err}
	}
	return nil
}
