package domain

import "time"

// ImpressionSource identifies where a view event originated.
type ImpressionSource string

const (
	SourceFeed    ImpressionSource = "feed"
	SourceProfile ImpressionSource = "profile"
	SourceThread  ImpressionSource = "thread"
	SourceSearch  ImpressionSource = "search"
)

// Valid reports whether s is one of the known sources.
func (s ImpressionSource) Valid() bool {
	switch s {
	case SourceFeed, SourceProfile, SourceThread, SourceSearch:
		return true
	}
	return false
}

// Impression is one recorded instance of a post entering a viewer's viewport.
type Impression struct {
	// PostURI is the AT-URI of the viewed post.
	PostURI string

	// ViewerID is the viewer's DID. Empty means an anonymous view.
	ViewerID string

	// ViewedAt is when the view event fired on the client.
	ViewedAt time.Time

	// Source is where the post was viewed.
	Source ImpressionSource
}

// Anonymous reports whether the impression carries no viewer identity.
func (i *Impression) Anonymous() bool {
	return i.ViewerID == ""
}

// ViewStats aggregates the impression log for a single post.
type ViewStats struct {
	TotalViews    int64
	UniqueViewers int64

	// FirstView and LastView are zero when TotalViews is 0.
	FirstView time.Time
	LastView  time.Time
}

// TrendingPost is one entry of a trending query result.
type TrendingPost struct {
	PostURI string
	Views   int64
}

// Boost is a time-boxed promotion record for a post. At most one boost
// exists per post; re-boosting replaces the window.
type Boost struct {
	PostURI   string
	AuthorID  string
	BoostedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the boost is unexpired at t. Expiry is derived
// from wall clock at query time, never from row presence.
func (b *Boost) ActiveAt(t time.Time) bool {
	return b.ExpiresAt.After(t)
}

// EngagementSnapshot holds the latest engagement counts reported by the
// upstream network for a post, together with the view estimate derived
// from them. The store always accepts the newest report, even when counts
// regress.
type EngagementSnapshot struct {
	PostURI     string
	LikeCount   int64
	ReplyCount  int64
	RepostCount int64

	// EngagementViews is the scaled engagement-only estimate component.
	EngagementViews int64

	// EstimatedViews is the displayed total after blending with tracked
	// impressions.
	EstimatedViews int64

	LastUpdated time.Time
}

// UserReach is the per-author rollup of view metrics across all posts.
// TotalReach always equals TrackedViews + EngagementViews when read.
type UserReach struct {
	UserID          string
	TrackedViews    int64
	EngagementViews int64
	TotalReach      int64
	LastUpdated     time.Time
}
