package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

// UpsertBoost creates or replaces the boost row for a post.
func (s *Store) UpsertBoost(ctx context.Context, boost *domain.Boost) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boosts (post_uri, author_id, boosted_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (post_uri) DO UPDATE SET
			author_id  = excluded.author_id,
			boosted_at = excluded.boosted_at,
			expires_at = excluded.expires_at`,
		boost.PostURI,
		boost.AuthorID,
		millis(boost.BoostedAt),
		millis(boost.ExpiresAt),
	)
	if err != nil {
		return &domain.WriteError{Op: "upsert boost", Err: err}
	}
	return nil
}

// DeleteBoost removes the boost row if present.
func (s *Store) DeleteBoost(ctx context.Context, postURI string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM boosts WHERE post_uri = ?`, postURI); err != nil {
		return &domain.WriteError{Op: "delete boost", Err: err}
	}
	return nil
}

// GetBoost returns the boost for a post only if unexpired at now. A row
// that is logically expired but not yet swept is reported as absent.
func (s *Store) GetBoost(ctx context.Context, postURI string, now time.Time) (*domain.Boost, error) {
	var (
		b                    domain.Boost
		boostedAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT post_uri, author_id, boosted_at, expires_at
		FROM boosts WHERE post_uri = ? AND expires_at > ?`,
		postURI, millis(now),
	).Scan(&b.PostURI, &b.AuthorID, &boostedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query boost: %w", err)
	}
	b.BoostedAt = fromMillis(boostedAt)
	b.ExpiresAt = fromMillis(expiresAt)
	return &b, nil
}

// ActiveBoosts returns all boosts unexpired at now, newest first.
func (s *Store) ActiveBoosts(ctx context.Context, now time.Time) ([]domain.Boost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_uri, author_id, boosted_at, expires_at
		FROM boosts WHERE expires_at > ?
		ORDER BY boosted_at DESC, post_uri DESC`,
		millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query active boosts: %w", err)
	}
	defer rows.Close()

	var boosts []domain.Boost
	for rows.Next() {
		var (
			b                    domain.Boost
			boostedAt, expiresAt int64
		)
		if err := rows.Scan(&b.PostURI, &b.AuthorID, &boostedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan boost: %w", err)
		}
		b.BoostedAt = fromMillis(boostedAt)
		b.ExpiresAt = fromMillis(expiresAt)
		boosts = append(boosts, b)
	}
	return boosts, rows.Err()
}

// SweepExpiredBoosts hard-deletes rows expired at now.
func (s *Store) SweepExpiredBoosts(ctx context.Context, now time.Time) (int64, error) {
	return s.sweepTable(ctx, "boosts", "expires_at", now)
}
