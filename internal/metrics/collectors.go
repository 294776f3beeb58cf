package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gateway/pkg/logger"
)

// RowCounter reports row counts per aggregate table
type RowCounter interface {
	CountRows(ctx context.Context) (map[string]int64, error)
}

// AggregateCollector queries the aggregate store on every scrape
type AggregateCollector struct {
	counter RowCounter
	log     *logger.Logger
	timeout time.Duration

	aggregateRows *prometheus.Desc
	scrapeErrors  *prometheus.Desc
}

// NewAggregateCollector creates a collector backed by counter
func NewAggregateCollector(counter RowCounter, log *logger.Logger) *AggregateCollector {
	return &AggregateCollector{
		counter: counter,
		log:     log,
		timeout: 5 * time.Second,
		aggregateRows: prometheus.NewDesc(
			"gateway_usage_aggregate_rows",
			"Number of rows in each usage aggregate table",
			[]string{"table"}, nil,
		),
		scrapeErrors: prometheus.NewDesc(
			"gateway_usage_aggregate_scrape_error",
			"1 if the last aggregate row count query failed",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *AggregateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.aggregateRows
	ch <- c.scrapeErrors
}

// Collect implements prometheus.Collector
func (c *AggregateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.counter.CountRows(ctx)
	if err != nil {
		c.log.Warnw("Failed to collect aggregate row counts", "error", err)
		ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, 1)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, 0)
	for table, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.aggregateRows, prometheus.GaugeValue, float64(n), table)
	}
}

// RegisterAggregateCollector registers the collector with the default registry
func RegisterAggregateCollector(collector *AggregateCollector) {
	prometheus.MustRegister(collector)
}
