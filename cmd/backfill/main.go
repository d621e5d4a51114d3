// Command backfill bulk-loads posts from a JSONL export into the store,
// one object per line with the same fields as the crawler's post events.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cannect/feedmetrics/internal/domain"
	"github.com/cannect/feedmetrics/internal/sqlite"
)

type exportedPost struct {
	URI          string `json:"uri"`
	CID          string `json:"cid"`
	AuthorID     string `json:"authorDid"`
	AuthorHandle string `json:"authorHandle"`
	QualityScore int    `json:"qualityScore,omitempty"`
	Category     string `json:"category,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath string
		file   string
	)
	flag.StringVar(&dbPath, "db", envOrDefault("FEEDSTORE_DB_PATH", "feedmetrics.db"), "SQLite database path")
	flag.StringVar(&file, "file", "", "JSONL export of posts to load")
	flag.Parse()

	if file == "" {
		return fmt.Errorf("--file is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	metrics := domain.NewMetricsService(store, domain.DefaultEstimatorParams(), 0, logger)

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var loaded, skipped int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var exported exportedPost
		if err := json.Unmarshal(line, &exported); err != nil {
			logger.Warn("skipping malformed line", "error", err)
			skipped++
			continue
		}

		err := metrics.IngestPost(ctx, &domain.Post{
			URI:          exported.URI,
			CID:          exported.CID,
			AuthorID:     exported.AuthorID,
			AuthorHandle: exported.AuthorHandle,
			QualityScore: exported.QualityScore,
			Category:     exported.Category,
		})
		if err != nil {
			logger.Warn("skipping post", "uri", exported.URI, "error", err)
			skipped++
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	fmt.Printf("Loaded %d posts (%d skipped)\n", loaded, skipped)
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
