package ingest

import (
	"encoding/json"
	"fmt"
)

// streamEvent is the raw JSON structure pushed by the crawler stream.
type streamEvent struct {
	// TimeUS is the event's microsecond timestamp, used as the resume cursor.
	TimeUS int64  `json:"time_us"`
	Kind   string `json:"kind"` // "post" or "engagement"

	Post       *postEvent       `json:"post,omitempty"`
	Engagement *engagementEvent `json:"engagement,omitempty"`
}

// postEvent carries a post create or delete commit.
type postEvent struct {
	Operation    string `json:"operation"` // "create" or "delete"
	URI          string `json:"uri"`
	CID          string `json:"cid"`
	AuthorID     string `json:"authorDid"`
	AuthorHandle string `json:"authorHandle"`

	// QualityScore and Category are the classifier's labels; zero values
	// mean the classifier has not seen the post yet.
	QualityScore int    `json:"qualityScore,omitempty"`
	Category     string `json:"category,omitempty"`
}

// engagementEvent carries a refresh of the upstream engagement counts.
type engagementEvent struct {
	URI     string `json:"uri"`
	Likes   int64  `json:"likeCount"`
	Replies int64  `json:"replyCount"`
	Reposts int64  `json:"repostCount"`
}

func parseEvent(data []byte) (*streamEvent, error) {
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}
