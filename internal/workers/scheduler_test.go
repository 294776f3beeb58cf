package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

type countingWorker struct {
	*BaseWorker
	runs  atomic.Int32
	runFn func(ctx context.Context) error
}

func newCountingWorker(name string, interval time.Duration, enabled bool) *countingWorker {
	return &countingWorker{BaseWorker: NewBaseWorker(name, interval, enabled)}
}

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.runFn != nil {
		return w.runFn(ctx)
	}
	return nil
}

func newTestScheduler() *Scheduler {
	return NewScheduler(logger.NewNop(), 2*time.Second)
}

func TestScheduler_RunsImmediatelyAndOnTicks(t *testing.T) {
	s := newTestScheduler()
	w := newCountingWorker("ticker", 20*time.Millisecond, true)
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return w.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	h := w.Health()
	assert.GreaterOrEqual(t, h.RunCount, int64(3))
	assert.Zero(t, h.ErrorCount)
	assert.False(t, h.LastRun.IsZero())
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	s := newTestScheduler()
	var finished atomic.Bool
	w := newCountingWorker("slow", time.Hour, true)
	w.runFn = func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return w.runs.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
	assert.True(t, finished.Load())
}

func TestScheduler_StopTimesOut(t *testing.T) {
	s := NewScheduler(logger.NewNop(), 20*time.Millisecond)
	release := make(chan struct{})
	w := newCountingWorker("stuck", time.Hour, true)
	w.runFn = func(ctx context.Context) error {
		<-release
		return nil
	}
	s.RegisterWorker(w)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return w.runs.Load() == 1 }, time.Second, time.Millisecond)

	err := s.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	close(release)
}

func TestScheduler_SkipsDisabledWorkers(t *testing.T) {
	s := newTestScheduler()
	on := newCountingWorker("on", 20*time.Millisecond, true)
	off := newCountingWorker("off", 20*time.Millisecond, false)
	s.RegisterWorker(on)
	s.RegisterWorker(off)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return on.runs.Load() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, off.runs.Load())
}

func TestScheduler_ParentContextCancellation(t *testing.T) {
	s := newTestScheduler()
	w := newCountingWorker("child", 20*time.Millisecond, true)
	s.RegisterWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.NoError(t, s.Stop())
}

func TestScheduler_StartTwiceAndStopWithoutStart(t *testing.T) {
	s := newTestScheduler()
	assert.Error(t, s.Stop())

	s.RegisterWorker(newCountingWorker("once", time.Hour, true))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_IgnoresRegistrationAfterStart(t *testing.T) {
	s := newTestScheduler()
	s.RegisterWorker(newCountingWorker("first", time.Hour, true))
	require.NoError(t, s.Start(context.Background()))
	s.RegisterWorker(newCountingWorker("late", time.Hour, true))
	require.NoError(t, s.Stop())

	workers := s.GetWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "first", workers[0].Name())
}

func TestScheduler_RecordsFailuresAndRecoversPanics(t *testing.T) {
	s := newTestScheduler()

	failing := newCountingWorker("failing", time.Hour, true)
	failing.runFn = func(ctx context.Context) error { return errors.New("boom") }
	panicking := newCountingWorker("panicking", time.Hour, true)
	panicking.runFn = func(ctx context.Context) error { panic("bad state") }
	s.RegisterWorker(failing)
	s.RegisterWorker(panicking)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return failing.Health().RunCount == 1 && panicking.Health().RunCount == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int64(1), failing.Health().ErrorCount)
	assert.EqualError(t, failing.Health().LastError, "boom")
	assert.Equal(t, int64(1), panicking.Health().ErrorCount)
	assert.Contains(t, panicking.Health().LastError.Error(), "bad state")
}

func TestBaseWorker_AverageDuration(t *testing.T) {
	w := NewBaseWorker("avg", time.Second, true)
	w.RecordRun(10*time.Millisecond, nil)
	w.RecordRun(30*time.Millisecond, errors.New("x"))

	h := w.Health()
	assert.Equal(t, 20*time.Millisecond, h.AvgDuration)
	assert.Equal(t, int64(2), h.RunCount)
	assert.Equal(t, int64(1), h.ErrorCount)

	w.SetEnabled(false)
	assert.False(t, w.Enabled())
}
