// Package batch provides the impression batching component. Clients fire
// view events far faster than they are worth committing one by one; the
// batcher buffers them and flushes periodically or when the buffer fills,
// so each flush costs one transaction.
//
// The batcher owns its buffer and timer and is constructed per process and
// injected into callers, so tests can build isolated instances and assert
// flush behavior deterministically.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cannect/feedmetrics/internal/domain"
)

// Sink receives each flushed batch. The service's RecordImpressionBatch
// is the production sink.
type Sink func(ctx context.Context, imps []domain.Impression)

// Batcher accumulates impressions and flushes them to the sink.
type Batcher struct {
	maxSize  int
	interval time.Duration
	sink     Sink
	logger   *slog.Logger

	mu  sync.Mutex
	buf []domain.Impression

	kick chan struct{}
}

// New creates a Batcher that flushes whenever maxSize impressions are
// buffered or interval elapses, whichever comes first.
func New(maxSize int, interval time.Duration, sink Sink, logger *slog.Logger) *Batcher {
	return &Batcher{
		maxSize:  maxSize,
		interval: interval,
		sink:     sink,
		logger:   logger,
		buf:      make([]domain.Impression, 0, maxSize),
		kick:     make(chan struct{}, 1),
	}
}

// Add buffers one impression. When the buffer reaches the size threshold
// the flush loop is nudged; Add itself never blocks on the sink.
func (b *Batcher) Add(imp domain.Impression) {
	b.mu.Lock()
	b.buf = append(b.buf, imp)
	full := len(b.buf) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of currently buffered impressions.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Start runs the flush loop until ctx is cancelled, then drains whatever
// is still buffered so shutdown loses nothing.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.kick:
			b.Flush(ctx)
		}
	}
}

// Flush hands the buffered impressions to the sink. The buffer is swapped
// out under the lock so new events keep accumulating during the flush.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]domain.Impression, 0, b.maxSize)
	b.mu.Unlock()

	flushID := uuid.NewString()
	b.logger.Debug("flushing impression batch", "flush_id", flushID, "size", len(batch))
	b.sink(ctx, batch)
}
