package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

// RecordImpression appends one impression unless the same identified
// (postURI, viewerID) pair has one within dedupWindow of the new view.
// Returns whether a row was written.
func (s *Store) RecordImpression(ctx context.Context, imp *domain.Impression, dedupWindow time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &domain.WriteError{Op: "record impression", Err: err}
	}
	defer tx.Rollback()

	recorded, err := insertImpression(ctx, tx, imp, dedupWindow)
	if err != nil {
		return false, &domain.WriteError{Op: "record impression", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &domain.WriteError{Op: "record impression", Err: err}
	}
	return recorded, nil
}

// RecordImpressionBatch applies the same semantics to a list inside one
// transaction: one fsync for the whole batch, and either all surviving
// rows commit together or none do.
func (s *Store) RecordImpressionBatch(ctx context.Context, imps []domain.Impression, dedupWindow time.Duration) ([]domain.Impression, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.WriteError{Op: "record impression batch", Err: err}
	}
	defer tx.Rollback()

	var recorded []domain.Impression
	for i := range imps {
		ok, err := insertImpression(ctx, tx, &imps[i], dedupWindow)
		if err != nil {
			return nil, &domain.WriteError{Op: "record impression batch", Err: err}
		}
		if ok {
			recorded = append(recorded, imps[i])
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &domain.WriteError{Op: "record impression batch", Err: err}
	}
	return recorded, nil
}

// insertImpression runs the dedup probe and the insert inside the caller's
// transaction. Anonymous views skip the probe entirely: every anonymous
// hit counts.
func insertImpression(ctx context.Context, tx *sql.Tx, imp *domain.Impression, dedupWindow time.Duration) (bool, error) {
	if !imp.Anonymous() {
		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM impressions
			WHERE post_uri = ? AND viewer_id = ? AND viewed_at > ?
			LIMIT 1`,
			imp.PostURI, imp.ViewerID, millis(imp.ViewedAt.Add(-dedupWindow)),
		).Scan(&one)
		if err == nil {
			return false, nil // duplicate within window, silent no-op
		}
		if err != sql.ErrNoRows {
			return false, fmt.Errorf("dedup probe: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO impressions (post_uri, viewer_id, viewed_at, source)
		VALUES (?, ?, ?, ?)`,
		imp.PostURI, nullable(imp.ViewerID), millis(imp.ViewedAt), string(imp.Source),
	)
	if err != nil {
		return false, fmt.Errorf("insert impression: %w", err)
	}
	return true, nil
}

// ImpressionCount returns the total logged impressions for a post.
func (s *Store) ImpressionCount(ctx context.Context, postURI string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM impressions WHERE post_uri = ?`, postURI,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count impressions: %w", err)
	}
	return count, nil
}

// ImpressionCounts returns totals for many posts in one query. Posts with
// no impressions are omitted.
func (s *Store) ImpressionCounts(ctx context.Context, postURIs []string) (map[string]int64, error) {
	if len(postURIs) == 0 {
		return map[string]int64{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(postURIs)), ",")
	args := make([]any, len(postURIs))
	for i, uri := range postURIs {
		args[i] = uri
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT post_uri, COUNT(*) FROM impressions WHERE post_uri IN (%s) GROUP BY post_uri`,
		placeholders,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("count impressions batch: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, len(postURIs))
	for rows.Next() {
		var (
			uri   string
			count int64
		)
		if err := rows.Scan(&uri, &count); err != nil {
			return nil, fmt.Errorf("scan impression count: %w", err)
		}
		counts[uri] = count
	}
	return counts, rows.Err()
}

// UniqueViewerCount returns the number of distinct identified viewers.
// COUNT(DISTINCT viewer_id) ignores NULLs, so anonymous views never count.
func (s *Store) UniqueViewerCount(ctx context.Context, postURI string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT viewer_id) FROM impressions WHERE post_uri = ?`, postURI,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unique viewers: %w", err)
	}
	return count, nil
}

// ViewStats returns count, unique viewers and first/last view timestamps
// in one query.
func (s *Store) ViewStats(ctx context.Context, postURI string) (domain.ViewStats, error) {
	var (
		stats       domain.ViewStats
		first, last int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT viewer_id), COALESCE(MIN(viewed_at), 0), COALESCE(MAX(viewed_at), 0)
		FROM impressions WHERE post_uri = ?`, postURI,
	).Scan(&stats.TotalViews, &stats.UniqueViewers, &first, &last)
	if err != nil {
		return domain.ViewStats{}, fmt.Errorf("query view stats: %w", err)
	}
	stats.FirstView = fromMillis(first)
	stats.LastView = fromMillis(last)
	return stats, nil
}

// Trending returns the top posts by impression count since the given time.
func (s *Store) Trending(ctx context.Context, since time.Time, limit int) ([]domain.TrendingPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_uri, COUNT(*) AS views
		FROM impressions
		WHERE viewed_at >= ?
		GROUP BY post_uri
		ORDER BY views DESC, post_uri ASC
		LIMIT ?`,
		millis(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trending: %w", err)
	}
	defer rows.Close()

	var posts []domain.TrendingPost
	for rows.Next() {
		var p domain.TrendingPost
		if err := rows.Scan(&p.PostURI, &p.Views); err != nil {
			return nil, fmt.Errorf("scan trending post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SweepImpressions deletes impressions viewed before olderThan, in
// bounded batches.
func (s *Store) SweepImpressions(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.sweepTable(ctx, "impressions", "viewed_at", olderThan)
}
