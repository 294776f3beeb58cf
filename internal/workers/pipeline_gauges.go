package workers

import (
	"context"
	"time"

	"gateway/internal/metrics"
)

// LagReporter exposes a consumer's last known lag
type LagReporter interface {
	Lag() int64
}

// BufferReporter exposes how many rows a batch writer still holds
type BufferReporter interface {
	BufferSize() int
}

// PipelineGaugeWorker samples ingest backlog into gauges: consumer lag per
// topic and rows pending in the raw event mirror. Either source may be nil.
type PipelineGaugeWorker struct {
	*BaseWorker
	topic  string
	lag    LagReporter
	table  string
	buffer BufferReporter
}

// NewPipelineGaugeWorker creates the worker
func NewPipelineGaugeWorker(interval time.Duration, topic string, lag LagReporter, table string, buffer BufferReporter) *PipelineGaugeWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PipelineGaugeWorker{
		BaseWorker: NewBaseWorker("pipeline_gauges", interval, lag != nil || buffer != nil),
		topic:      topic,
		lag:        lag,
		table:      table,
		buffer:     buffer,
	}
}

func (w *PipelineGaugeWorker) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.lag != nil {
		metrics.KafkaConsumerLag.WithLabelValues(w.topic).Set(float64(w.lag.Lag()))
	}
	if w.buffer != nil {
		metrics.BatchBufferRows.WithLabelValues(w.table).Set(float64(w.buffer.BufferSize()))
	}
	return nil
}
