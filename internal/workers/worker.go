package workers

import (
	"context"
	"sync"
	"time"
)

// Worker is a periodic background task. Run performs one iteration; the
// scheduler calls it once on start and then every Interval().
type Worker interface {
	Name() string
	Run(ctx context.Context) error
	Interval() time.Duration
	Enabled() bool
}

// WorkerHealth is a snapshot of a worker's run history
type WorkerHealth struct {
	LastRun     time.Time
	LastError   error
	RunCount    int64
	ErrorCount  int64
	AvgDuration time.Duration
	Enabled     bool
}

// BaseWorker is embedded by workers for naming, scheduling and run bookkeeping
type BaseWorker struct {
	name     string
	interval time.Duration

	mu      sync.RWMutex
	health  WorkerHealth
	elapsed time.Duration
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		health:   WorkerHealth{Enabled: enabled},
	}
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }

func (w *BaseWorker) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.health.Enabled
}

// SetEnabled takes effect on the next scheduler start
func (w *BaseWorker) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.health.Enabled = enabled
}

func (w *BaseWorker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.health
}

// RecordRun folds one iteration into the health snapshot
func (w *BaseWorker) RecordRun(duration time.Duration, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := &w.health
	h.LastRun = time.Now()
	h.LastError = err
	h.RunCount++
	if err != nil {
		h.ErrorCount++
	}
	w.elapsed += duration
	h.AvgDuration = w.elapsed / time.Duration(h.RunCount)
}

// runRecorder is implemented by workers embedding BaseWorker
type runRecorder interface {
	RecordRun(duration time.Duration, err error)
}
