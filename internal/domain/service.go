package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MetricsService owns the business logic of the feed metrics store:
// post ingestion, boost lifecycle, impression recording with
// deduplication, view estimation, per-author reach and the retention
// sweeps. Reads of tracking data fail open to zero values; they are
// advisory and must never fail the feed-serving path.
type MetricsService struct {
	repo        Repository
	params      EstimatorParams
	dedupWindow time.Duration
	logger      *slog.Logger

	now func() time.Time
}

// NewMetricsService creates a MetricsService on top of the given repository.
func NewMetricsService(repo Repository, params EstimatorParams, dedupWindow time.Duration, logger *slog.Logger) *MetricsService {
	return &MetricsService{
		repo:        repo,
		params:      params,
		dedupWindow: dedupWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// IngestPost validates and upserts a post pushed in by the crawler.
// Re-ingesting the same URI overwrites prior fields.
func (s *MetricsService) IngestPost(ctx context.Context, post *Post) error {
	if post == nil || post.URI == "" {
		return fmt.Errorf("%w: post uri is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	if post.IndexedAt.IsZero() {
		post.IndexedAt = now
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	if post.QualityScore == 0 {
		post.QualityScore = DefaultQualityScore
	}
	if post.Category == "" {
		post.Category = DefaultCategory
	}

	return s.repo.UpsertPost(ctx, post)
}

// RemovePost deletes a post reported deleted upstream. Idempotent.
func (s *MetricsService) RemovePost(ctx context.Context, uri string) error {
	if uri == "" {
		return fmt.Errorf("%w: post uri is required", ErrInvalidInput)
	}
	return s.repo.DeletePost(ctx, uri)
}

// PagePosts returns a feed page ordered by indexedAt descending.
func (s *MetricsService) PagePosts(ctx context.Context, limit, offset int, filter PostFilter) ([]Post, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit must be positive and offset non-negative", ErrInvalidInput)
	}
	return s.repo.PagePosts(ctx, limit, offset, filter)
}

// RecordImpression records one view event. Duplicate views from the same
// identified viewer within the dedup window are silently dropped. Write
// failures are logged and swallowed: losing a view event is acceptable,
// failing the caller is not.
func (s *MetricsService) RecordImpression(ctx context.Context, postURI, viewerID string, source ImpressionSource) {
	imp := Impression{
		PostURI:  postURI,
		ViewerID: viewerID,
		ViewedAt: s.now().UTC(),
		Source:   source,
	}
	if err := s.validateImpression(&imp); err != nil {
		s.logger.Warn("dropping malformed impression", "uri", postURI, "error", err)
		return
	}

	recorded, err := s.repo.RecordImpression(ctx, &imp, s.dedupWindow)
	if err != nil {
		s.logger.Error("failed to record impression", "uri", postURI, "error", err)
		return
	}
	if recorded {
		s.bumpTrackedReach(ctx, map[string]int64{imp.PostURI: 1})
	}
}

// RecordImpressionBatch records a batch of view events in one transaction.
// Malformed entries are dropped up front; dedup applies per row. Write
// failures are logged and swallowed, same as the single-event path.
func (s *MetricsService) RecordImpressionBatch(ctx context.Context, imps []Impression) {
	now := s.now().UTC()
	valid := make([]Impression, 0, len(imps))
	for _, imp := range imps {
		if imp.ViewedAt.IsZero() {
			imp.ViewedAt = now
		}
		if err := s.validateImpression(&imp); err != nil {
			s.logger.Warn("dropping malformed impression", "uri", imp.PostURI, "error", err)
			continue
		}
		valid = append(valid, imp)
	}
	if len(valid) == 0 {
		return
	}

	recorded, err := s.repo.RecordImpressionBatch(ctx, valid, s.dedupWindow)
	if err != nil {
		s.logger.Error("failed to record impression batch", "size", len(valid), "error", err)
		return
	}

	deltas := make(map[string]int64, len(recorded))
	for _, imp := range recorded {
		deltas[imp.PostURI]++
	}
	s.bumpTrackedReach(ctx, deltas)
}

func (s *MetricsService) validateImpression(imp *Impression) error {
	if imp.PostURI == "" {
		return fmt.Errorf("%w: post uri is required", ErrInvalidInput)
	}
	if !imp.Source.Valid() {
		return fmt.Errorf("%w: unknown impression source %q", ErrInvalidInput, imp.Source)
	}
	return nil
}

// bumpTrackedReach applies the fast-path reach increment for each post's
// author after impressions were written. Periodic full recomputation
// reconciles any drift, so failures here are logged and dropped.
func (s *MetricsService) bumpTrackedReach(ctx context.Context, deltas map[string]int64) {
	now := s.now().UTC()
	for uri, delta := range deltas {
		post, err := s.repo.GetPost(ctx, uri)
		if err != nil || post == nil {
			continue
		}
		if err := s.repo.AdjustReach(ctx, post.AuthorID, delta, 0, now); err != nil {
			s.logger.Error("failed to bump author reach", "author", post.AuthorID, "error", err)
		}
	}
}

// PostViewStats returns the raw impression aggregates for a post. Fails
// open to zeros on storage errors; a post with no data is a normal state.
func (s *MetricsService) PostViewStats(ctx context.Context, postURI string) ViewStats {
	stats, err := s.repo.ViewStats(ctx, postURI)
	if err != nil {
		s.logger.Error("view stats query failed", "uri", postURI, "error", err)
		return ViewStats{}
	}
	return stats
}

// TrendingPosts returns the top posts by impressions within the window.
// Fails open to an empty list.
func (s *MetricsService) TrendingPosts(ctx context.Context, window time.Duration, limit int) []TrendingPost {
	if window <= 0 || limit <= 0 {
		return nil
	}
	posts, err := s.repo.Trending(ctx, s.now().UTC().Add(-window), limit)
	if err != nil {
		s.logger.Error("trending query failed", "error", err)
		return nil
	}
	return posts
}

// UpdateEngagement accepts the latest engagement counts for a post,
// recomputes the view estimate fully from the new snapshot and persists
// both. Counts may regress; the estimate follows the snapshot either way.
func (s *MetricsService) UpdateEngagement(ctx context.Context, postURI string, likes, replies, reposts int64) error {
	if postURI == "" {
		return fmt.Errorf("%w: post uri is required", ErrInvalidInput)
	}
	if likes < 0 || replies < 0 || reposts < 0 {
		return fmt.Errorf("%w: engagement counts must be non-negative", ErrInvalidInput)
	}

	tracked, err := s.repo.ImpressionCount(ctx, postURI)
	if err != nil {
		return fmt.Errorf("count impressions: %w", err)
	}

	prev, err := s.repo.GetEngagement(ctx, postURI)
	if err != nil {
		return fmt.Errorf("load prior snapshot: %w", err)
	}

	est := EstimateViews(s.params, postURI, tracked, likes, replies, reposts)
	snap := &EngagementSnapshot{
		PostURI:         postURI,
		LikeCount:       likes,
		ReplyCount:      replies,
		RepostCount:     reposts,
		EngagementViews: est.EngagementViews,
		EstimatedViews:  est.Total,
		LastUpdated:     s.now().UTC(),
	}
	if err := s.repo.UpsertEngagement(ctx, snap); err != nil {
		return err
	}

	var prevEngagement int64
	if prev != nil {
		prevEngagement = prev.EngagementViews
	}
	if delta := est.EngagementViews - prevEngagement; delta != 0 {
		if post, err := s.repo.GetPost(ctx, postURI); err == nil && post != nil {
			if err := s.repo.AdjustReach(ctx, post.AuthorID, 0, delta, s.now().UTC()); err != nil {
				s.logger.Error("failed to adjust author reach", "author", post.AuthorID, "error", err)
			}
		}
	}
	return nil
}

// EstimatedViews returns the displayed view count for a post. The persisted
// estimate is served when present, refreshed first if impressions logged
// since the snapshot have outgrown it; otherwise it is computed from tracked
// impressions alone and persisted so subsequent reads are point lookups.
// Fails open to zero.
func (s *MetricsService) EstimatedViews(ctx context.Context, postURI string) int64 {
	snap, err := s.repo.GetEngagement(ctx, postURI)
	if err != nil {
		s.logger.Error("estimate lookup failed", "uri", postURI, "error", err)
		return 0
	}
	if snap == nil {
		return s.materializeEstimate(ctx, postURI)
	}

	tracked, err := s.repo.ImpressionCount(ctx, postURI)
	if err != nil {
		s.logger.Error("impression count failed", "uri", postURI, "error", err)
		return snap.EstimatedViews
	}
	return s.refreshEstimate(ctx, snap, tracked)
}

// refreshEstimate keeps the tracked-impressions floor intact for a stored
// snapshot: when the impression log has grown past the persisted estimate,
// the estimate is recomputed from the stored engagement counts and the new
// tracked total, and re-persisted.
func (s *MetricsService) refreshEstimate(ctx context.Context, snap *EngagementSnapshot, tracked int64) int64 {
	if tracked <= snap.EstimatedViews {
		return snap.EstimatedViews
	}

	est := EstimateViews(s.params, snap.PostURI, tracked, snap.LikeCount, snap.ReplyCount, snap.RepostCount)
	snap.EngagementViews = est.EngagementViews
	snap.EstimatedViews = est.Total
	snap.LastUpdated = s.now().UTC()
	if err := s.repo.UpsertEngagement(ctx, snap); err != nil {
		s.logger.Error("failed to persist estimate", "uri", snap.PostURI, "error", err)
	}
	return est.Total
}

// EstimatedViewsBatch returns displayed view counts for many posts in one
// round trip. Every requested URI appears in the result, defaulting to 0.
// Stored estimates outgrown by the impression log are refreshed the same
// way as in EstimatedViews.
func (s *MetricsService) EstimatedViewsBatch(ctx context.Context, postURIs []string) map[string]int64 {
	out := make(map[string]int64, len(postURIs))
	for _, uri := range postURIs {
		out[uri] = 0
	}

	snaps, err := s.repo.GetEngagementBatch(ctx, postURIs)
	if err != nil {
		s.logger.Error("estimate batch lookup failed", "error", err)
		return out
	}

	counts, err := s.repo.ImpressionCounts(ctx, postURIs)
	if err != nil {
		s.logger.Error("impression counts lookup failed", "error", err)
		for uri, snap := range snaps {
			out[uri] = snap.EstimatedViews
		}
		return out
	}

	now := s.now().UTC()
	for _, uri := range postURIs {
		tracked := counts[uri]
		snap, ok := snaps[uri]
		if ok {
			out[uri] = s.refreshEstimate(ctx, snap, tracked)
			continue
		}
		if tracked == 0 {
			continue
		}
		est := EstimateViews(s.params, uri, tracked, 0, 0, 0)
		out[uri] = est.Total
		fresh := &EngagementSnapshot{
			PostURI:        uri,
			EstimatedViews: est.Total,
			LastUpdated:    now,
		}
		if err := s.repo.UpsertEngagement(ctx, fresh); err != nil {
			s.logger.Error("failed to persist estimate", "uri", uri, "error", err)
		}
	}
	return out
}

// materializeEstimate computes an estimate for a post with no engagement
// snapshot. Posts with no impressions stay at zero without writing a row.
func (s *MetricsService) materializeEstimate(ctx context.Context, postURI string) int64 {
	tracked, err := s.repo.ImpressionCount(ctx, postURI)
	if err != nil {
		s.logger.Error("impression count failed", "uri", postURI, "error", err)
		return 0
	}
	if tracked == 0 {
		return 0
	}

	est := EstimateViews(s.params, postURI, tracked, 0, 0, 0)
	snap := &EngagementSnapshot{
		PostURI:        postURI,
		EstimatedViews: est.Total,
		LastUpdated:    s.now().UTC(),
	}
	if err := s.repo.UpsertEngagement(ctx, snap); err != nil {
		s.logger.Error("failed to persist estimate", "uri", postURI, "error", err)
	}
	return est.Total
}

// AuthorReach returns the stored per-author rollup, zero-valued for
// unknown users. Fails open to zeros.
func (s *MetricsService) AuthorReach(ctx context.Context, userID string) UserReach {
	reach, err := s.repo.GetReach(ctx, userID)
	if err != nil {
		s.logger.Error("reach lookup failed", "user", userID, "error", err)
	}
	if err != nil || reach == nil {
		return UserReach{UserID: userID}
	}
	return *reach
}

// RecomputeReach rebuilds a user's rollup from scratch, reconciling any
// drift accumulated by the incremental fast path.
func (s *MetricsService) RecomputeReach(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	tracked, engagement, err := s.repo.ReachInputs(ctx, userID)
	if err != nil {
		return fmt.Errorf("recompute reach inputs: %w", err)
	}
	return s.repo.UpsertReach(ctx, &UserReach{
		UserID:          userID,
		TrackedViews:    tracked,
		EngagementViews: engagement,
		TotalReach:      tracked + engagement,
		LastUpdated:     s.now().UTC(),
	})
}

// ReconcileReach rebuilds every stored rollup from its inputs, clearing
// whatever drift the incremental fast path accumulated, including deltas
// dropped on write failures. Runs as part of the periodic sweep.
func (s *MetricsService) ReconcileReach(ctx context.Context) error {
	users, err := s.repo.ReachUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list reach users: %w", err)
	}
	for _, userID := range users {
		if err := s.RecomputeReach(ctx, userID); err != nil {
			s.logger.Error("reach reconciliation failed", "user", userID, "error", err)
		}
	}
	return nil
}

// BoostPost creates or refreshes a post's boost window. Re-boosting an
// active boost extends the window from now, it does not stack durations.
// Write failures surface to the caller: a user's explicit boost action
// must not silently no-op.
func (s *MetricsService) BoostPost(ctx context.Context, postURI, authorID string, duration time.Duration) error {
	if postURI == "" || authorID == "" {
		return fmt.Errorf("%w: post uri and author id are required", ErrInvalidInput)
	}
	if duration <= 0 {
		return fmt.Errorf("%w: boost duration must be positive", ErrInvalidInput)
	}

	now := s.now().UTC()
	return s.repo.UpsertBoost(ctx, &Boost{
		PostURI:   postURI,
		AuthorID:  authorID,
		BoostedAt: now,
		ExpiresAt: now.Add(duration),
	})
}

// UnboostPost removes a post's boost. Removing an absent boost is a no-op.
func (s *MetricsService) UnboostPost(ctx context.Context, postURI string) error {
	if postURI == "" {
		return fmt.Errorf("%w: post uri is required", ErrInvalidInput)
	}
	return s.repo.DeleteBoost(ctx, postURI)
}

// BoostInfo returns boost metadata only while the boost is unexpired.
// Fails open to nil.
func (s *MetricsService) BoostInfo(ctx context.Context, postURI string) *Boost {
	boost, err := s.repo.GetBoost(ctx, postURI, s.now().UTC())
	if err != nil {
		s.logger.Error("boost lookup failed", "uri", postURI, "error", err)
		return nil
	}
	return boost
}

// IsBoosted reports whether a post currently has an active boost.
func (s *MetricsService) IsBoosted(ctx context.Context, postURI string) bool {
	return s.BoostInfo(ctx, postURI) != nil
}

// ActiveBoosts returns all unexpired boosts, newest first, for the feed
// ranking layer. Fails open to an empty list.
func (s *MetricsService) ActiveBoosts(ctx context.Context) []Boost {
	boosts, err := s.repo.ActiveBoosts(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("active boosts query failed", "error", err)
		return nil
	}
	return boosts
}

// GetCursor retrieves the last-processed ingest cursor for a service.
func (s *MetricsService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.repo.GetCursor(ctx, service)
}

// UpdateCursor persists the ingest cursor for a service.
func (s *MetricsService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.repo.UpdateCursor(ctx, service, cursor)
}

// StartSweepJob runs the retention sweeps and the reach reconciliation on
// a loop: expired boosts, posts past postMaxAge, impressions past
// impressionMaxAge, then every stored reach rollup rebuilt from scratch.
// It runs once immediately, then repeats at the given interval until ctx
// is cancelled.
func (s *MetricsService) StartSweepJob(ctx context.Context, interval, postMaxAge, impressionMaxAge time.Duration) {
	s.runSweep(ctx, postMaxAge, impressionMaxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx, postMaxAge, impressionMaxAge)
		}
	}
}

func (s *MetricsService) runSweep(ctx context.Context, postMaxAge, impressionMaxAge time.Duration) {
	now := s.now().UTC()

	boosts, err := s.repo.SweepExpiredBoosts(ctx, now)
	if err != nil {
		s.logger.Error("boost sweep failed", "error", err)
	}
	posts, err := s.repo.SweepPosts(ctx, now.Add(-postMaxAge))
	if err != nil {
		s.logger.Error("post sweep failed", "error", err)
	}
	imps, err := s.repo.SweepImpressions(ctx, now.Add(-impressionMaxAge))
	if err != nil {
		s.logger.Error("impression sweep failed", "error", err)
	}

	if err := s.ReconcileReach(ctx); err != nil {
		s.logger.Error("reach reconciliation failed", "error", err)
	}

	if boosts+posts+imps > 0 {
		s.logger.Info("retention sweep complete",
			"expired_boosts", boosts,
			"swept_posts", posts,
			"swept_impressions", imps,
		)
	}
}
