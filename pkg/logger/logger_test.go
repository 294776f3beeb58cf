package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gateway/pkg/errors"
)

type captured struct {
	err  error
	tags map[string]string
}

type recordingTracker struct {
	errs []captured
}

func (r *recordingTracker) CaptureError(_ context.Context, err error, tags map[string]string) error {
	r.errs = append(r.errs, captured{err: err, tags: tags})
	return nil
}

func (r *recordingTracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (r *recordingTracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (r *recordingTracker) Flush(context.Context) error { return nil }

func TestErrorwForwardsTagsAndCause(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracker := &recordingTracker{}

	log := New(zap.New(core))
	log.errorTracker = tracker
	child := log.With("component", "usage_consumer")

	cause := errors.New("connection refused")
	child.Errorw("Failed to track usage event", "event_id", "evt-1", "attempts", 3, "error", cause)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Failed to track usage event", entry.Message)
	assert.Equal(t, "usage_consumer", entry.ContextMap()["component"])

	require.Len(t, tracker.errs, 1)
	assert.True(t, errors.Is(tracker.errs[0].err, cause))
	assert.Equal(t, "evt-1", tracker.errs[0].tags["event_id"])
	_, hasAttempts := tracker.errs[0].tags["attempts"]
	assert.False(t, hasAttempts)
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := NewNop().With("component", "test")
	log.Infow("hello", "k", "v")
	log.Errorw("boom", "error", errors.New("x"))
	log.Error("plain")
}
