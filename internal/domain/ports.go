package domain

import (
	"context"
	"time"
)

// PostRepository defines persistence operations for indexed posts.
type PostRepository interface {
	// UpsertPost inserts or overwrites a post by URI. Re-ingesting the same
	// URI replaces prior fields and never creates a duplicate row.
	UpsertPost(ctx context.Context, post *Post) error

	// GetPost retrieves a post by URI. Returns (nil, nil) when absent.
	GetPost(ctx context.Context, uri string) (*Post, error)

	// DeletePost removes a post by URI. Removing a missing row is not an error.
	DeletePost(ctx context.Context, uri string) error

	// PagePosts retrieves posts ordered by indexedAt descending, restricted
	// by the filter. Pagination is offset-based and tolerates minor drift
	// across deletions.
	PagePosts(ctx context.Context, limit, offset int, filter PostFilter) ([]Post, error)

	// SweepPosts deletes posts with createdAt before olderThan, in bounded
	// batches. Returns the number of rows deleted.
	SweepPosts(ctx context.Context, olderThan time.Time) (int64, error)
}

// BoostRepository defines persistence operations for the boost ledger.
type BoostRepository interface {
	// UpsertBoost creates or replaces the boost row for a post. Replacing
	// extends the window from the new BoostedAt, it never stacks durations.
	UpsertBoost(ctx context.Context, boost *Boost) error

	// DeleteBoost removes the boost row if present; no-op otherwise.
	DeleteBoost(ctx context.Context, postURI string) error

	// GetBoost returns the boost for a post only if it is unexpired at now.
	// Expired-but-unswept rows are reported as absent (nil, nil).
	GetBoost(ctx context.Context, postURI string, now time.Time) (*Boost, error)

	// ActiveBoosts returns all boosts unexpired at now, newest first.
	ActiveBoosts(ctx context.Context, now time.Time) ([]Boost, error)

	// SweepExpiredBoosts hard-deletes rows expired at now.
	SweepExpiredBoosts(ctx context.Context, now time.Time) (int64, error)
}

// ImpressionRepository defines persistence operations for the append-only
// impression log.
type ImpressionRepository interface {
	// RecordImpression appends one impression unless the same
	// (postURI, viewerID) pair already has one within dedupWindow of
	// imp.ViewedAt. Anonymous impressions skip deduplication. Returns
	// whether a row was written.
	RecordImpression(ctx context.Context, imp *Impression, dedupWindow time.Duration) (bool, error)

	// RecordImpressionBatch applies RecordImpression semantics to a list
	// inside a single transaction. Returns the impressions actually written.
	RecordImpressionBatch(ctx context.Context, imps []Impression, dedupWindow time.Duration) ([]Impression, error)

	// ImpressionCount returns the total logged impressions for a post.
	ImpressionCount(ctx context.Context, postURI string) (int64, error)

	// ImpressionCounts returns totals for many posts in one query. Posts
	// with no impressions are omitted from the result.
	ImpressionCounts(ctx context.Context, postURIs []string) (map[string]int64, error)

	// UniqueViewerCount returns the number of distinct identified viewers.
	// Anonymous views never count toward it.
	UniqueViewerCount(ctx context.Context, postURI string) (int64, error)

	// ViewStats returns count, unique viewers and first/last timestamps in
	// one query.
	ViewStats(ctx context.Context, postURI string) (ViewStats, error)

	// Trending returns the top posts by impression count since the given
	// time, descending.
	Trending(ctx context.Context, since time.Time, limit int) ([]TrendingPost, error)

	// SweepImpressions deletes impressions viewed before olderThan, in
	// bounded batches.
	SweepImpressions(ctx context.Context, olderThan time.Time) (int64, error)
}

// EngagementRepository persists engagement snapshots and their derived
// view estimates.
type EngagementRepository interface {
	// UpsertEngagement stores the latest snapshot, overwriting any prior one.
	UpsertEngagement(ctx context.Context, snap *EngagementSnapshot) error

	// GetEngagement returns the stored snapshot, or (nil, nil) when absent.
	GetEngagement(ctx context.Context, postURI string) (*EngagementSnapshot, error)

	// GetEngagementBatch returns stored snapshots for many posts in one
	// round trip. Absent posts are omitted from the map.
	GetEngagementBatch(ctx context.Context, postURIs []string) (map[string]*EngagementSnapshot, error)
}

// ReachRepository persists the per-author rollup.
type ReachRepository interface {
	// UpsertReach stores a fully recomputed rollup row.
	UpsertReach(ctx context.Context, reach *UserReach) error

	// GetReach returns the stored rollup, or (nil, nil) when absent.
	GetReach(ctx context.Context, userID string) (*UserReach, error)

	// AdjustReach applies incremental deltas to a user's rollup, creating
	// the row if needed. TotalReach moves by trackedDelta + engagementDelta.
	AdjustReach(ctx context.Context, userID string, trackedDelta, engagementDelta int64, now time.Time) error

	// ReachInputs recomputes the rollup inputs from scratch: total logged
	// impressions and the summed engagement-estimate components across the
	// user's posts.
	ReachInputs(ctx context.Context, userID string) (tracked, engagement int64, err error)

	// ReachUserIDs lists every user with a stored rollup row, for the
	// periodic reconciliation pass.
	ReachUserIDs(ctx context.Context) ([]string, error)
}

// CursorRepository persists resume points for the ingest stream.
type CursorRepository interface {
	// GetCursor retrieves the last-processed stream cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the stream cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Repository is the full persistence surface backing the metrics service.
// The sqlite store implements all of it on one database file.
type Repository interface {
	PostRepository
	BoostRepository
	ImpressionRepository
	EngagementRepository
	ReachRepository
	CursorRepository
}
