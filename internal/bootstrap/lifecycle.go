package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle(timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Lifecycle{shutdownTimeout: timeout}
}

// Shutdown performs coordinated cleanup in this order:
// HTTP, consumer workers, Kafka, raw event mirror, error tracker, stores.
// The run context must already be cancelled.
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	started := time.Now()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	log.Info("[1/6] Stopping HTTP server...")
	if c.HTTP != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.HTTP.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	// in-flight events finish on their own timeout, so waiting comes before closing Kafka
	log.Info("[2/6] Waiting for consumer and background workers...")
	l.waitForGoroutines(c.WG, l.shutdownTimeout/2, log)

	if c.Scheduler != nil && c.Scheduler.IsRunning() {
		if err := c.Scheduler.Stop(); err != nil {
			log.Errorw("Worker scheduler stop failed", "error", err)
		}
	}

	log.Info("[3/6] Closing Kafka...")
	if c.KafkaConsumer != nil {
		if err := c.KafkaConsumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "error", err)
		}
	}
	if c.KafkaProducer != nil {
		if err := c.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	log.Info("[4/6] Flushing raw event mirror...")
	if c.Events != nil {
		if err := c.Events.Stop(shutdownCtx); err != nil {
			log.Errorw("Usage event mirror stop failed", "error", err)
		}
	}

	log.Info("[5/6] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)

	log.Info("[6/6] Closing stores...")
	l.closeStores(c)

	log.Infow("Graceful shutdown complete", "took", humanize.RelTime(started, time.Now(), "", ""))
}

func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeStores closes whatever connections were opened; safe on a partially built container
func (l *Lifecycle) closeStores(c *Container) {
	var errs errors.MultiError

	if c.Redis != nil {
		errs.Add(errors.Wrap(c.Redis.Close(), "redis"))
	}
	if c.CH != nil {
		errs.Add(errors.Wrap(c.CH.Close(), "clickhouse"))
	}
	if c.PG != nil {
		errs.Add(errors.Wrap(c.PG.Close(), "postgres"))
	}

	if err := errs.ToError(); err != nil {
		c.Log.Errorw("Store close errors", "error", err)
	}
}
