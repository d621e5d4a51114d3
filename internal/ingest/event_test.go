package ingest

import "testing"

func TestParsePostCreateEvent(t *testing.T) {
	data := []byte(`{
		"time_us": 1722500000000000,
		"kind": "post",
		"post": {
			"operation": "create",
			"uri": "at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b",
			"cid": "bafyrei123",
			"authorDid": "did:plc:abc",
			"authorHandle": "alice.test",
			"qualityScore": 7,
			"category": "science"
		}
	}`)

	event, err := parseEvent(data)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.Kind != "post" || event.TimeUS != 1722500000000000 {
		t.Errorf("wrong envelope: kind=%q time_us=%d", event.Kind, event.TimeUS)
	}
	if event.Post == nil {
		t.Fatal("post payload missing")
	}
	if event.Post.Operation != "create" || event.Post.AuthorID != "did:plc:abc" {
		t.Errorf("wrong post payload: %+v", event.Post)
	}
	if event.Post.QualityScore != 7 || event.Post.Category != "science" {
		t.Errorf("classifier labels not parsed: %+v", event.Post)
	}
}

func TestParseEngagementEvent(t *testing.T) {
	data := []byte(`{
		"time_us": 1722500000000001,
		"kind": "engagement",
		"engagement": {
			"uri": "at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b",
			"likeCount": 42,
			"replyCount": 7,
			"repostCount": 3
		}
	}`)

	event, err := parseEvent(data)
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if event.Engagement == nil {
		t.Fatal("engagement payload missing")
	}
	e := event.Engagement
	if e.Likes != 42 || e.Replies != 7 || e.Reposts != 3 {
		t.Errorf("wrong counts: %+v", e)
	}
}

func TestParseEventMalformed(t *testing.T) {
	if _, err := parseEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed event")
	}
}

func TestParseEventUnknownKind(t *testing.T) {
	event, err := parseEvent([]byte(`{"time_us": 1, "kind": "identity"}`))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	// Unknown kinds parse fine and are skipped by the subscriber; the
	// cursor still advances past them.
	if event.Post != nil || event.Engagement != nil {
		t.Errorf("unexpected payload on unknown kind: %+v", event)
	}
}
