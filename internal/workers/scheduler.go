package workers

import (
	"context"
	"sync"
	"time"

	"gateway/internal/metrics"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Scheduler runs each registered worker on its own ticker
type Scheduler struct {
	workers     []Worker
	stopTimeout time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	log         *logger.Logger
	started     bool
}

// NewScheduler creates a new worker scheduler. Stop waits at most stopTimeout for running iterations.
func NewScheduler(log *logger.Logger, stopTimeout time.Duration) *Scheduler {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Scheduler{
		stopTimeout: stopTimeout,
		log:         log.With("component", "scheduler"),
	}
}

// RegisterWorker adds a worker. Registration after Start is ignored.
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all enabled workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler already started")
	}

	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	for _, worker := range workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}

		s.wg.Add(1)
		go s.runWorker(runCtx, worker)
	}

	s.log.Infow("Worker scheduler started", "workers", len(workers))
	return nil
}

// Stop cancels the workers and waits for in-flight iterations
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("All workers stopped")
	case <-time.After(s.stopTimeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
		shutdownErr = errors.Wrapf(errors.ErrInternal, "shutdown timeout after %s", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

func (s *Scheduler) runWorker(ctx context.Context, worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	s.executeWorker(ctx, worker)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.executeWorker(ctx, worker)
		}
	}
}

// executeWorker runs one iteration; a panic is logged and counted as a failed run
func (s *Scheduler) executeWorker(ctx context.Context, worker Worker) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("worker panicked: %v", r)
			s.log.Errorw("Worker panicked", "worker", worker.Name(), "panic", r)
		}
		if rec, ok := worker.(runRecorder); ok {
			rec.RecordRun(time.Since(start), err)
		}
		metrics.RecordWorkerRun(worker.Name(), err)
	}()

	err = worker.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Warnw("Worker execution failed",
			"worker", worker.Name(),
			"error", err,
			"duration", time.Since(start),
		)
	}
}

// GetWorkers returns a copy of the registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
