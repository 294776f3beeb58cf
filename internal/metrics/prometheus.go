package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Aggregation engine metrics
	UsageEventsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_events_tracked_total",
			Help: "Usage events merged into the aggregate store",
		},
		[]string{"provider", "model"},
	)

	UsageEventsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_events_failed_total",
			Help: "Usage events that could not be tracked",
		},
		[]string{"reason"}, // reason: decode|validation|rate_limit|dedup|storage
	)

	UsageEventsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_usage_events_duplicate_total",
			Help: "Usage events skipped because their id was already claimed",
		},
	)

	UsageTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_tokens_total",
			Help: "Tokens merged into the aggregate store",
		},
		[]string{"provider", "model", "type"}, // type: prompt|completion
	)

	UsageCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_cost_total",
			Help: "Cost merged into the aggregate store, in the event currency",
		},
		[]string{"provider", "currency"},
	)

	TrackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_usage_track_duration_seconds",
			Help:    "Latency of the three-way aggregate transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"status"}, // status: success|error
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_usage_query_duration_seconds",
			Help:    "Latency of aggregate read queries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"query", "status"},
	)

	CurrencyMismatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_currency_mismatch_total",
			Help: "Events whose currency differs from the default; their costs are summed unconverted",
		},
		[]string{"currency"},
	)

	// Ingest pipeline metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_kafka_messages_total",
			Help: "Kafka messages handled by topic",
		},
		[]string{"topic", "status"}, // status: ok|error|dlq
	)

	BatchFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_batch_flushes_total",
			Help: "Batch writer flushes by table",
		},
		[]string{"table", "status"},
	)

	BatchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_batch_rows_total",
			Help: "Rows written by batch writers",
		},
		[]string{"table"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_kafka_consumer_lag",
			Help: "Last reported consumer group lag",
		},
		[]string{"topic"},
	)

	BatchBufferRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_batch_buffer_rows",
			Help: "Rows waiting in a batch writer",
		},
		[]string{"table"},
	)

	WorkerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_worker_runs_total",
			Help: "Background worker iterations",
		},
		[]string{"worker", "status"},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default Prometheus registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			UsageEventsTracked,
			UsageEventsFailed,
			UsageEventsDuplicate,
			UsageTokens,
			UsageCost,
			TrackDuration,
			QueryDuration,
			CurrencyMismatch,
			KafkaMessages,
			BatchFlushes,
			BatchRows,
			KafkaConsumerLag,
			BatchBufferRows,
			WorkerRuns,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrack records one aggregate transaction. Token and cost counters only move on success.
func RecordTrack(provider, model, currency string, promptTokens, completionTokens int64, cost float64, duration time.Duration, err error) {
	if err != nil {
		TrackDuration.WithLabelValues("error").Observe(duration.Seconds())
		return
	}

	TrackDuration.WithLabelValues("success").Observe(duration.Seconds())
	UsageEventsTracked.WithLabelValues(provider, model).Inc()
	UsageTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	UsageTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	UsageCost.WithLabelValues(provider, currency).Add(cost)
}

// RecordQuery records an aggregate read
func RecordQuery(query string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	QueryDuration.WithLabelValues(query, status).Observe(duration.Seconds())
}

// RecordFailure counts an event dropped at the given stage
func RecordFailure(reason string) {
	UsageEventsFailed.WithLabelValues(reason).Inc()
}

// RecordBatchFlush records a batch writer flush
func RecordBatchFlush(table string, rows int, err error) {
	if err != nil {
		BatchFlushes.WithLabelValues(table, "error").Inc()
		return
	}
	BatchFlushes.WithLabelValues(table, "success").Inc()
	BatchRows.WithLabelValues(table).Add(float64(rows))
}

// RecordWorkerRun counts one background worker iteration
func RecordWorkerRun(worker string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	WorkerRuns.WithLabelValues(worker, status).Inc()
}
