package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gateway/pkg/errors"
)

var globalLogger *Logger

// Logger wraps zap.SugaredLogger. Error-level calls are also reported to
// the error tracker when one is attached.
type Logger struct {
	*zap.SugaredLogger
	errorTracker errors.Tracker
}

// Init builds the global logger. env "production" selects JSON output,
// anything else a colored console encoder. Unknown levels fall back to info.
func Init(level string, env string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return errors.Wrap(err, "build zap logger")
	}
	globalLogger = New(zl)
	return nil
}

// New wraps an existing zap logger. Useful in tests with zaptest/observer.
func New(l *zap.Logger) *Logger {
	return &Logger{SugaredLogger: l.Sugar()}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return New(zap.NewNop())
}

// SetErrorTracker attaches a tracker to the global logger.
// Children derived with With afterwards inherit it.
func SetErrorTracker(tracker errors.Tracker) {
	Get().errorTracker = tracker
}

// Get returns the global logger, falling back to a development logger before Init
func Get() *Logger {
	if globalLogger == nil {
		zl, _ := zap.NewDevelopment()
		globalLogger = New(zl)
	}
	return globalLogger
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		errorTracker:  l.errorTracker,
	}
}

func (l *Logger) report(err error, tags map[string]string) {
	if l.errorTracker == nil {
		return
	}
	if tags == nil {
		tags = map[string]string{}
	}
	if _, ok := tags["component"]; !ok {
		tags["component"] = "logger"
	}
	_ = l.errorTracker.CaptureError(context.Background(), err, tags)
}

func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)
	l.report(errors.Wrap(errors.ErrInternal, fmt.Sprint(args...)), nil)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
	l.report(fmt.Errorf(template, args...), nil)
}

// Errorw logs a message with key/value pairs. String values become tracker
// tags and an error value becomes the reported cause.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
	if l.errorTracker == nil {
		return
	}

	tags := map[string]string{}
	var cause error
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		switch v := keysAndValues[i+1].(type) {
		case string:
			tags[key] = v
		case error:
			cause = v
		}
	}

	if cause != nil {
		l.report(errors.Wrap(cause, msg), tags)
		return
	}
	l.report(errors.New(msg), tags)
}

// Sync flushes any buffered log entries
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}
