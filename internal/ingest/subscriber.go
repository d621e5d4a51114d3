// Package ingest consumes the external crawler's push stream. Post
// metadata and engagement counts arrive here; this service never reaches
// out to the upstream network itself.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cannect/feedmetrics/internal/domain"
)

const (
	cursorServiceName  = "crawler-stream"
	cursorSaveInterval = 5 * time.Second
	reconnectDelay     = 5 * time.Second
	statsLogInterval   = 30 * time.Second
)

// Subscriber connects to the crawler stream and applies events to the
// metrics service.
type Subscriber struct {
	url     string
	metrics *domain.MetricsService
	logger  *slog.Logger
}

// NewSubscriber creates a new stream subscriber.
func NewSubscriber(streamURL string, metrics *domain.MetricsService, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:     streamURL,
		metrics: metrics,
		logger:  logger,
	}
}

// Start connects to the stream and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("stream connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.metrics.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to crawler stream", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to crawler stream")

	lastCursorSave := time.Now()
	var latestCursor int64
	var eventsReceived, postsApplied, engagementApplied int64
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS

		switch event.Kind {
		case "post":
			if event.Post == nil {
				continue
			}
			if err := s.handlePost(ctx, event.Post); err != nil {
				s.logger.Error("failed to handle post event", "uri", event.Post.URI, "error", err)
			} else {
				postsApplied++
			}
		case "engagement":
			if event.Engagement == nil {
				continue
			}
			e := event.Engagement
			if err := s.metrics.UpdateEngagement(ctx, e.URI, e.Likes, e.Replies, e.Reposts); err != nil {
				s.logger.Error("failed to apply engagement update", "uri", e.URI, "error", err)
			} else {
				engagementApplied++
			}
		}

		if time.Since(lastStatsLog) >= statsLogInterval {
			s.logger.Info("stream stats",
				"events_received", eventsReceived,
				"posts_applied", postsApplied,
				"engagement_applied", engagementApplied,
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.metrics.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

func (s *Subscriber) handlePost(ctx context.Context, event *postEvent) error {
	switch event.Operation {
	case "create":
		return s.metrics.IngestPost(ctx, &domain.Post{
			URI:          event.URI,
			CID:          event.CID,
			AuthorID:     event.AuthorID,
			AuthorHandle: event.AuthorHandle,
			QualityScore: event.QualityScore,
			Category:     event.Category,
		})
	case "delete":
		return s.metrics.RemovePost(ctx, event.URI)
	default:
		return nil
	}
}
