package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cannect/feedmetrics/internal/batch"
	"github.com/cannect/feedmetrics/internal/config"
	"github.com/cannect/feedmetrics/internal/domain"
)

// Server is the HTTP façade over the feed metrics store.
type Server struct {
	cfg        *config.Config
	metrics    *domain.MetricsService
	batcher    *batch.Batcher
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server for the given metrics service and
// impression batcher.
func NewServer(cfg *config.Config, metrics *domain.MetricsService, batcher *batch.Batcher, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		metrics: metrics,
		batcher: batcher,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /views", s.handleRecordViews)
	mux.HandleFunc("GET /views/post", s.handlePostViews)
	mux.HandleFunc("GET /views/author", s.handleAuthorViews)
	mux.HandleFunc("GET /trending", s.handleTrending)
	mux.HandleFunc("POST /boost", s.handleBoost)
	mux.HandleFunc("DELETE /boost", s.handleUnboost)
	mux.HandleFunc("GET /boosts", s.handleActiveBoosts)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type viewEvent struct {
	PostURI  string `json:"postUri"`
	ViewerID string `json:"viewerId,omitempty"`
	Source   string `json:"source,omitempty"`
}

type recordViewsRequest struct {
	Views     []viewEvent `json:"views"`
	ViewerDID string      `json:"viewerDid,omitempty"`
}

// handleRecordViews enqueues a batch of client view events. It always
// reports success: duplicates are silently dropped and storage failures
// are handled downstream, because view tracking is best-effort and never
// on the critical path.
func (s *Server) handleRecordViews(w http.ResponseWriter, r *http.Request) {
	var req recordViewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	now := time.Now().UTC()
	accepted := 0
	for _, v := range req.Views {
		if v.PostURI == "" {
			continue
		}
		viewerID := v.ViewerID
		if viewerID == "" {
			viewerID = req.ViewerDID
		}
		source := domain.ImpressionSource(v.Source)
		if !source.Valid() {
			source = domain.SourceFeed
		}
		s.batcher.Add(domain.Impression{
			PostURI:  v.PostURI,
			ViewerID: viewerID,
			ViewedAt: now,
			Source:   source,
		})
		accepted++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"accepted": accepted,
	})
}

// handlePostViews returns the display metrics for one post. Reads fail
// open: storage trouble yields zeros, not an error page.
func (s *Server) handlePostViews(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "uri parameter is required")
		return
	}

	stats := s.metrics.PostViewStats(r.Context(), uri)
	estimated := s.metrics.EstimatedViews(r.Context(), uri)

	resp := map[string]any{
		"totalViews":    estimated,
		"trackedViews":  stats.TotalViews,
		"uniqueViewers": stats.UniqueViewers,
	}
	if !stats.FirstView.IsZero() {
		resp["firstView"] = stats.FirstView.Format(time.RFC3339)
		resp["lastView"] = stats.LastView.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthorViews(w http.ResponseWriter, r *http.Request) {
	did := r.URL.Query().Get("did")
	if did == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "did parameter is required")
		return
	}

	reach := s.metrics.AuthorReach(r.Context(), did)
	writeJSON(w, http.StatusOK, map[string]any{
		"totalViews":      reach.TotalReach,
		"trackedViews":    reach.TrackedViews,
		"engagementViews": reach.EngagementViews,
	})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 || parsed > 24*30 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "hours must be between 1 and 720")
			return
		}
		hours = parsed
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	posts := s.metrics.TrendingPosts(r.Context(), time.Duration(hours)*time.Hour, limit)
	entries := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, map[string]any{
			"postUri": p.PostURI,
			"views":   p.Views,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period": fmt.Sprintf("%dh", hours),
		"posts":  entries,
	})
}

type boostRequest struct {
	PostURI         string `json:"postUri"`
	AuthorID        string `json:"authorId"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
}

// handleBoost creates or refreshes a boost. Unlike the view endpoints,
// write failures surface here: a user's explicit boost action must not
// silently no-op.
func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body")
		return
	}

	duration := s.cfg.DefaultBoostDuration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	err := s.metrics.BoostPost(r.Context(), req.PostURI, req.AuthorID, duration)
	if errors.Is(err, domain.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("boost failed", "uri", req.PostURI, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to boost post")
		return
	}

	boost := s.metrics.BoostInfo(r.Context(), req.PostURI)
	resp := map[string]any{"status": "boosted"}
	if boost != nil {
		resp["expiresAt"] = boost.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnboost(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "uri parameter is required")
		return
	}

	if err := s.metrics.UnboostPost(r.Context(), uri); err != nil {
		s.logger.Error("unboost failed", "uri", uri, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to unboost post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unboosted"})
}

func (s *Server) handleActiveBoosts(w http.ResponseWriter, r *http.Request) {
	boosts := s.metrics.ActiveBoosts(r.Context())
	entries := make([]map[string]any, 0, len(boosts))
	for _, b := range boosts {
		entries = append(entries, map[string]any{
			"postUri":   b.PostURI,
			"authorId":  b.AuthorID,
			"boostedAt": b.BoostedAt.Format(time.RFC3339),
			"expiresAt": b.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"boosts": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
