package clickhouse

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"gateway/pkg/logger"
)

// FlushFunc writes one batch. It owns the slice it receives.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates items in memory and flushes them in batches.
// ClickHouse handles one large INSERT far better than many single-row ones.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	onFlush   func(rows int, err error)
	buffer    []T
	mu        sync.Mutex
	log       *logger.Logger

	maxBatchSize int
	maxAge       time.Duration
	tableName    string

	lastFlush time.Time
	flushed   uint64

	// quit and done belong to the current run; both are nil while stopped
	quit chan struct{}
	done chan struct{}
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s

	// OnFlush is called after every non-empty flush attempt
	OnFlush func(rows int, err error)
	Logger  *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		onFlush:      cfg.OnFlush,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		log:          cfg.Logger.With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start launches the age-based flush loop. Calling it on a running writer is a no-op.
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.quit != nil {
		bw.mu.Unlock()
		return
	}
	quit, done := make(chan struct{}), make(chan struct{})
	bw.quit, bw.done = quit, done
	bw.mu.Unlock()

	go bw.flushLoop(ctx, quit, done)

	bw.log.Infow("BatchWriter started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers an item, flushing synchronously once the buffer is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered items. A failed batch is dropped and reported.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}

	// take ownership so Add is not blocked by I/O
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	if bw.onFlush != nil {
		bw.onFlush(len(batch), err)
	}

	if err != nil {
		bw.log.Errorw("Failed to flush batch",
			"rows", len(batch),
			"took", duration,
			"error", err,
		)
		return err
	}

	bw.mu.Lock()
	bw.flushed += uint64(len(batch))
	total := bw.flushed
	bw.mu.Unlock()

	bw.log.Debugw("Flushed batch",
		"rows", len(batch),
		"took", duration,
		"total", humanize.Comma(int64(total)),
	)
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if bw.BufferSize() == 0 {
				continue
			}
			if err := bw.Flush(ctx); err != nil {
				bw.log.Warnw("Periodic flush failed", "error", err)
			}
		case <-quit:
			bw.finalFlush("stop requested")
			return
		case <-ctx.Done():
			bw.finalFlush("context done")
			return
		}
	}
}

func (bw *BatchWriter[T]) finalFlush(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending := bw.BufferSize()
	bw.log.Infow("BatchWriter stopping", "reason", reason, "pending", pending)
	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorw("Final flush failed", "rows", pending, "error", err)
	}
}

// Stop flushes remaining items and waits for the flush loop to exit.
// A writer that was never started is flushed synchronously.
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	quit, done := bw.quit, bw.done
	bw.quit, bw.done = nil, nil
	bw.mu.Unlock()

	if quit == nil {
		return bw.Flush(ctx)
	}
	close(quit)

	select {
	case <-done:
		bw.log.Infow("BatchWriter stopped", "written", humanize.Comma(int64(bw.Stats().Flushed)))
		return nil
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the current buffer size
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats is a point-in-time view of a writer
type BatchWriterStats struct {
	BufferSize   int
	Flushed      uint64
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
}

// Stats returns current statistics
func (bw *BatchWriter[T]) Stats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		Flushed:      bw.flushed,
		LastFlushAge: time.Since(bw.lastFlush),
		MaxBatchSize: bw.maxBatchSize,
		MaxAge:       bw.maxAge,
		Running:      bw.quit != nil,
	}
}
