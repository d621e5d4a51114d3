package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cannect/feedmetrics/internal/domain"
)

// UpsertEngagement stores the latest snapshot and its derived estimate,
// overwriting any prior row. The raw inputs are persisted alongside the
// estimate so the stored number stays auditable.
func (s *Store) UpsertEngagement(ctx context.Context, snap *domain.EngagementSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement (post_uri, like_count, reply_count, repost_count, engagement_views, estimated_views, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_uri) DO UPDATE SET
			like_count       = excluded.like_count,
			reply_count      = excluded.reply_count,
			repost_count     = excluded.repost_count,
			engagement_views = excluded.engagement_views,
			estimated_views  = excluded.estimated_views,
			last_updated     = excluded.last_updated`,
		snap.PostURI,
		snap.LikeCount,
		snap.ReplyCount,
		snap.RepostCount,
		snap.EngagementViews,
		snap.EstimatedViews,
		millis(snap.LastUpdated),
	)
	if err != nil {
		return &domain.WriteError{Op: "upsert engagement", Err: err}
	}
	return nil
}

// GetEngagement returns the stored snapshot, or (nil, nil) when absent.
func (s *Store) GetEngagement(ctx context.Context, postURI string) (*domain.EngagementSnapshot, error) {
	var (
		snap        domain.EngagementSnapshot
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT post_uri, like_count, reply_count, repost_count, engagement_views, estimated_views, last_updated
		FROM engagement WHERE post_uri = ?`, postURI,
	).Scan(&snap.PostURI, &snap.LikeCount, &snap.ReplyCount, &snap.RepostCount, &snap.EngagementViews, &snap.EstimatedViews, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query engagement: %w", err)
	}
	snap.LastUpdated = fromMillis(lastUpdated)
	return &snap, nil
}

// GetEngagementBatch returns stored snapshots for many posts in one round
// trip. Absent posts are omitted from the map.
func (s *Store) GetEngagementBatch(ctx context.Context, postURIs []string) (map[string]*domain.EngagementSnapshot, error) {
	if len(postURIs) == 0 {
		return map[string]*domain.EngagementSnapshot{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(postURIs)), ",")
	args := make([]any, len(postURIs))
	for i, uri := range postURIs {
		args[i] = uri
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT post_uri, like_count, reply_count, repost_count, engagement_views, estimated_views, last_updated
		FROM engagement WHERE post_uri IN (%s)`, placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("query engagement batch: %w", err)
	}
	defer rows.Close()

	snaps := make(map[string]*domain.EngagementSnapshot, len(postURIs))
	for rows.Next() {
		var (
			snap        domain.EngagementSnapshot
			lastUpdated int64
		)
		if err := rows.Scan(&snap.PostURI, &snap.LikeCount, &snap.ReplyCount, &snap.RepostCount, &snap.EngagementViews, &snap.EstimatedViews, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		snap.LastUpdated = fromMillis(lastUpdated)
		snaps[snap.PostURI] = &snap
	}
	return snaps, rows.Err()
}
