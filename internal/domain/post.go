package domain

import "time"

// Defaults applied when the ingestion event carries no classifier output.
const (
	DefaultQualityScore = 5
	DefaultCategory     = "general"
)

// Post represents a feed-eligible post reference indexed by the crawler.
type Post struct {
	// URI is the globally unique, immutable identifier of the post.
	URI string

	// CID is the content hash of the record at index time.
	CID string

	// AuthorID is the DID of the post's author.
	AuthorID string

	// AuthorHandle is the author's handle at index time.
	AuthorHandle string

	// IndexedAt is when we indexed this post. Feed paging orders on it.
	IndexedAt time.Time

	// QualityScore is the classifier's 1-10 quality label.
	QualityScore int

	// Category is the classifier's category label.
	Category string

	// CreatedAt is the ingestion timestamp; the retention sweep keys on it.
	CreatedAt time.Time
}

// PostFilter restricts paging queries. Zero values mean no filter.
type PostFilter struct {
	// MinQuality keeps only posts with QualityScore >= MinQuality when > 0.
	MinQuality int

	// Category keeps only posts with a matching category when non-empty.
	Category string
}
