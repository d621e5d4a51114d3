package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

func TestAdjustReachCreatesAndIncrements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.AdjustReach(ctx, "did:plc:a", 1, 0, now); err != nil {
		t.Fatalf("AdjustReach: %v", err)
	}
	if err := s.AdjustReach(ctx, "did:plc:a", 2, 30, now); err != nil {
		t.Fatalf("second AdjustReach: %v", err)
	}

	got, err := s.GetReach(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("GetReach: %v", err)
	}
	if got.TrackedViews != 3 || got.EngagementViews != 30 {
		t.Errorf("reach = %+v, want tracked 3 engagement 30", got)
	}
	if got.TotalReach != got.TrackedViews+got.EngagementViews {
		t.Errorf("invariant broken: total %d != tracked %d + engagement %d",
			got.TotalReach, got.TrackedViews, got.EngagementViews)
	}
}

func TestAdjustReachNegativeDelta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.AdjustReach(ctx, "did:plc:a", 0, 100, now); err != nil {
		t.Fatalf("AdjustReach: %v", err)
	}
	// Engagement retraction shrinks the rollup.
	if err := s.AdjustReach(ctx, "did:plc:a", 0, -40, now); err != nil {
		t.Fatalf("negative AdjustReach: %v", err)
	}

	got, err := s.GetReach(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("GetReach: %v", err)
	}
	if got.EngagementViews != 60 || got.TotalReach != 60 {
		t.Errorf("reach after retraction = %+v, want 60/60", got)
	}
}

func TestGetReachAbsent(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetReach(context.Background(), "did:plc:nobody")
	if err != nil {
		t.Fatalf("GetReach: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown user, got %+v", got)
	}
}

func TestReachInputsRollup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two posts by the author, one by someone else.
	for _, p := range []struct{ uri, author string }{
		{"at://p/1", "did:plc:a"},
		{"at://p/2", "did:plc:a"},
		{"at://p/other", "did:plc:b"},
	} {
		post := testPost(p.uri, now)
		post.AuthorID = p.author
		if err := s.UpsertPost(ctx, post); err != nil {
			t.Fatalf("UpsertPost: %v", err)
		}
	}

	// 3 impressions on the author's posts, 1 on the other author's.
	for i, uri := range []string{"at://p/1", "at://p/1", "at://p/2", "at://p/other"} {
		imp := impressionAt(uri, "", now.Add(time.Duration(i)*time.Second))
		if _, err := s.RecordImpression(ctx, imp, time.Minute); err != nil {
			t.Fatalf("RecordImpression: %v", err)
		}
	}

	// Engagement components on the author's posts.
	for _, snap := range []*domain.EngagementSnapshot{
		{PostURI: "at://p/1", EngagementViews: 40, EstimatedViews: 45, LastUpdated: now},
		{PostURI: "at://p/2", EngagementViews: 25, EstimatedViews: 26, LastUpdated: now},
		{PostURI: "at://p/other", EngagementViews: 99, EstimatedViews: 99, LastUpdated: now},
	} {
		if err := s.UpsertEngagement(ctx, snap); err != nil {
			t.Fatalf("UpsertEngagement: %v", err)
		}
	}

	tracked, engagement, err := s.ReachInputs(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("ReachInputs: %v", err)
	}
	if tracked != 3 {
		t.Errorf("tracked = %d, want 3", tracked)
	}
	if engagement != 65 {
		t.Errorf("engagement = %d, want 65", engagement)
	}
}

func TestReachUserIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	users, err := s.ReachUserIDs(ctx)
	if err != nil {
		t.Fatalf("ReachUserIDs: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("empty store listed %d users", len(users))
	}

	for _, userID := range []string{"did:plc:a", "did:plc:b"} {
		if err := s.AdjustReach(ctx, userID, 1, 0, now); err != nil {
			t.Fatalf("AdjustReach: %v", err)
		}
	}

	users, err = s.ReachUserIDs(ctx)
	if err != nil {
		t.Fatalf("ReachUserIDs: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("listed %d users, want 2", len(users))
	}
}

func TestCursorRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cursor, err := s.GetCursor(ctx, "crawler-stream")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor != 0 {
		t.Errorf("unsaved cursor = %d, want 0", cursor)
	}

	if err := s.UpdateCursor(ctx, "crawler-stream", 12345); err != nil {
		t.Fatalf("UpdateCursor: %v", err)
	}
	if err := s.UpdateCursor(ctx, "crawler-stream", 67890); err != nil {
		t.Fatalf("second UpdateCursor: %v", err)
	}

	cursor, err = s.GetCursor(ctx, "crawler-stream")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor != 67890 {
		t.Errorf("cursor = %d, want 67890", cursor)
	}
}
