package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// DatabasePath is the SQLite database file path.
	DatabasePath string

	// StreamURL is the crawler push-stream WebSocket endpoint. Empty
	// disables the subscriber (backfill-only deployments).
	StreamURL string

	// PostRetention is how long post rows are kept.
	PostRetention time.Duration

	// ImpressionRetention is how long impression rows are kept. Longer
	// than PostRetention so historical trend queries outlive the posts.
	ImpressionRetention time.Duration

	// DedupWindow suppresses repeat impressions from the same viewer for
	// the same post. Capped at 5 minutes.
	DedupWindow time.Duration

	// SweepInterval is how often the retention sweeps run.
	SweepInterval time.Duration

	// FlushInterval and FlushBatchSize control the impression batcher.
	FlushInterval  time.Duration
	FlushBatchSize int

	// DefaultBoostDuration applies when a boost request carries no duration.
	DefaultBoostDuration time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                 3000,
		DatabasePath:         "feedmetrics.db",
		StreamURL:            os.Getenv("FEEDSTORE_STREAM_URL"),
		PostRetention:        7 * 24 * time.Hour,
		ImpressionRetention:  30 * 24 * time.Hour,
		DedupWindow:          60 * time.Second,
		SweepInterval:        time.Hour,
		FlushInterval:        10 * time.Second,
		FlushBatchSize:       100,
		DefaultBoostDuration: 24 * time.Hour,
	}

	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}
	if path := os.Getenv("FEEDSTORE_DB_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	var err error
	if cfg.PostRetention, err = durationEnv("FEEDSTORE_POST_RETENTION", cfg.PostRetention); err != nil {
		return nil, err
	}
	if cfg.ImpressionRetention, err = durationEnv("FEEDSTORE_IMPRESSION_RETENTION", cfg.ImpressionRetention); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = durationEnv("FEEDSTORE_DEDUP_WINDOW", cfg.DedupWindow); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("FEEDSTORE_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = durationEnv("FEEDSTORE_FLUSH_INTERVAL", cfg.FlushInterval); err != nil {
		return nil, err
	}
	if cfg.DefaultBoostDuration, err = durationEnv("FEEDSTORE_BOOST_DURATION", cfg.DefaultBoostDuration); err != nil {
		return nil, err
	}
	if v := os.Getenv("FEEDSTORE_FLUSH_BATCH_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FEEDSTORE_FLUSH_BATCH_SIZE: %w", err)
		}
		cfg.FlushBatchSize = size
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PostRetention <= 0 || c.ImpressionRetention <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if c.DedupWindow <= 0 || c.DedupWindow > 5*time.Minute {
		return fmt.Errorf("dedup window must be between 0 and 5m, got %s", c.DedupWindow)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.FlushInterval <= 0 || c.FlushBatchSize <= 0 {
		return fmt.Errorf("flush interval and batch size must be positive")
	}
	if c.DefaultBoostDuration <= 0 {
		return fmt.Errorf("default boost duration must be positive")
	}
	return nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
