package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

// UpsertReach stores a fully recomputed rollup row for a user.
func (s *Store) UpsertReach(ctx context.Context, reach *domain.UserReach) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_reach (user_id, tracked_views, engagement_views, total_reach, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			tracked_views    = excluded.tracked_views,
			engagement_views = excluded.engagement_views,
			total_reach      = excluded.total_reach,
			last_updated     = excluded.last_updated`,
		reach.UserID,
		reach.TrackedViews,
		reach.EngagementViews,
		reach.TotalReach,
		millis(reach.LastUpdated),
	)
	if err != nil {
		return &domain.WriteError{Op: "upsert reach", Err: err}
	}
	return nil
}

// GetReach returns the stored rollup, or (nil, nil) when absent.
func (s *Store) GetReach(ctx context.Context, userID string) (*domain.UserReach, error) {
	var (
		reach       domain.UserReach
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tracked_views, engagement_views, total_reach, last_updated
		FROM user_reach WHERE user_id = ?`, userID,
	).Scan(&reach.UserID, &reach.TrackedViews, &reach.EngagementViews, &reach.TotalReach, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reach: %w", err)
	}
	reach.LastUpdated = fromMillis(lastUpdated)
	return &reach, nil
}

// AdjustReach applies incremental deltas to a user's rollup, creating the
// row if needed. TotalReach moves by the sum of the deltas, preserving the
// tracked + engagement = total invariant.
func (s *Store) AdjustReach(ctx context.Context, userID string, trackedDelta, engagementDelta int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_reach (user_id, tracked_views, engagement_views, total_reach, last_updated)
		VALUES (?, MAX(?, 0), MAX(?, 0), MAX(?, 0) + MAX(?, 0), ?)
		ON CONFLICT (user_id) DO UPDATE SET
			tracked_views    = user_reach.tracked_views + ?,
			engagement_views = user_reach.engagement_views + ?,
			total_reach      = user_reach.total_reach + ? + ?,
			last_updated     = ?`,
		userID, trackedDelta, engagementDelta, trackedDelta, engagementDelta, millis(now),
		trackedDelta, engagementDelta, trackedDelta, engagementDelta, millis(now),
	)
	if err != nil {
		return &domain.WriteError{Op: "adjust reach", Err: err}
	}
	return nil
}

// ReachInputs recomputes the rollup inputs from scratch: total logged
// impressions across the user's posts, and the summed engagement-estimate
// components.
func (s *Store) ReachInputs(ctx context.Context, userID string) (tracked, engagement int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM impressions i
		JOIN posts p ON p.uri = i.post_uri
		WHERE p.author_id = ?`, userID,
	).Scan(&tracked)
	if err != nil {
		return 0, 0, fmt.Errorf("sum tracked views: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.engagement_views), 0)
		FROM engagement e
		JOIN posts p ON p.uri = e.post_uri
		WHERE p.author_id = ?`, userID,
	).Scan(&engagement)
	if err != nil {
		return 0, 0, fmt.Errorf("sum engagement views: %w", err)
	}
	return tracked, engagement, nil
}

// ReachUserIDs lists every user with a stored rollup row.
func (s *Store) ReachUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_reach`)
	if err != nil {
		return nil, fmt.Errorf("query reach users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan reach user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
