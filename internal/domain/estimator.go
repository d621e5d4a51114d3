package domain

import (
	"hash/fnv"
	"math"
)

// EstimatorParams are the tunable constants of the view estimation formula.
type EstimatorParams struct {
	// Per-unit weights for each engagement type. Likes are the most common
	// signal and carry the smallest weight; reposts the rarest and largest.
	LikeWeight   int64
	ReplyWeight  int64
	RepostWeight int64

	// SoftKnee and HardKnee bound the piecewise scaling. Raw engagement
	// views below SoftKnee pass through unchanged; between the knees only
	// MidRate of each marginal view counts; above HardKnee only TopRate.
	SoftKnee int64
	HardKnee int64
	MidRate  float64
	TopRate  float64

	// BaseBonus is added once there is any nonzero engagement, modelling
	// the views that must have happened for the engagement to exist.
	BaseBonus int64

	// VarianceSpread is the half-width of the deterministic variance band,
	// e.g. 0.12 for roughly +/-12%.
	VarianceSpread float64
}

// DefaultEstimatorParams returns the calibrated production constants.
func DefaultEstimatorParams() EstimatorParams {
	return EstimatorParams{
		LikeWeight:     4,
		ReplyWeight:    12,
		RepostWeight:   18,
		SoftKnee:       200,
		HardKnee:       1000,
		MidRate:        0.8,
		TopRate:        0.5,
		BaseBonus:      15,
		VarianceSpread: 0.12,
	}
}

// Estimate is the output of the view estimation formula.
type Estimate struct {
	// EngagementViews is the engagement-only component, before blending
	// with tracked impressions. Zero when there is no engagement.
	EngagementViews int64

	// Total is the displayed view count. Always >= the tracked input.
	Total int64
}

// EstimateViews computes the displayed view count for a post from its
// tracked impression count and the latest engagement snapshot. The function
// is pure: the same inputs always produce the same output, across calls,
// processes and restarts. Zero engagement and zero tracked impressions
// yield exactly zero.
func EstimateViews(p EstimatorParams, postURI string, tracked, likes, replies, reposts int64) Estimate {
	raw := likes*p.LikeWeight + replies*p.ReplyWeight + reposts*p.RepostWeight

	var engagement int64
	if raw > 0 {
		scaled := dampen(p, raw)
		factor := varianceFactor(p, postURI)
		engagement = int64(math.Round((float64(p.BaseBonus) + scaled) * factor))
		if engagement < 1 {
			engagement = 1
		}
	}

	lo, hi := tracked, engagement
	if lo > hi {
		lo, hi = hi, lo
	}
	// The larger signal wins outright; the smaller contributes a fifth, so
	// a post with both real traffic and real engagement scores above either
	// signal alone without double-counting the overlap.
	total := hi + lo/5

	return Estimate{EngagementViews: engagement, Total: total}
}

// dampen applies the piecewise concave scaling to raw engagement views.
// Continuous and monotonically increasing in raw.
func dampen(p EstimatorParams, raw int64) float64 {
	r := float64(raw)
	soft := float64(p.SoftKnee)
	hard := float64(p.HardKnee)

	switch {
	case r <= soft:
		return r
	case r <= hard:
		return soft + p.MidRate*(r-soft)
	default:
		return soft + p.MidRate*(hard-soft) + p.TopRate*(r-hard)
	}
}

// varianceFactor derives a stable multiplier in
// [1-VarianceSpread, 1+VarianceSpread] from the post URI. Seeding on the
// URI rather than wall clock or an RNG is what makes recomputation
// idempotent and reproducible.
func varianceFactor(p EstimatorParams, postURI string) float64 {
	h := fnv.New64a()
	h.Write([]byte(postURI))
	bucket := h.Sum64() % 10000
	unit := float64(bucket) / 9999 // in [0, 1]
	return 1 - p.VarianceSpread + 2*p.VarianceSpread*unit
}
