// Package monitoring provides Prometheus-backed metrics reporters for
// the upsert engine.
package monitoring

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	metagdb "github.com/IOB-Muenster/MetagenomicsDB-sub001"
)

// PrometheusReporter collects batch metrics into a private Prometheus
// registry.
type PrometheusReporter struct {
	batchDuration *prometheus.HistogramVec
	batchTotal    *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	recordsTotal  *prometheus.CounterVec
	changedTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ metagdb.MetricsReporter = (*PrometheusReporter)(nil)

// NewPrometheusReporter creates a reporter with its own registry.
func NewPrometheusReporter() *PrometheusReporter {
	registry := prometheus.NewRegistry()

	pr := &PrometheusReporter{
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metagdb_batch_execution_duration_seconds",
				Help:    "Duration of batch upsert execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"table", "status"},
		),

		batchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metagdb_batch_execution_total",
				Help: "Total number of batch upsert executions",
			},
			[]string{"table", "status"},
		),

		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metagdb_batch_size",
				Help:    "Size of upsert batches executed",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 to ~16k
			},
			[]string{"table"},
		),

		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metagdb_records_submitted_total",
				Help: "Total number of records submitted for upsert",
			},
			[]string{"table"},
		),

		changedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metagdb_batches_changed_total",
				Help: "Total number of batches that wrote at least one row",
			},
			[]string{"table"},
		),

		registry: registry,
	}

	registry.MustRegister(
		pr.batchDuration,
		pr.batchTotal,
		pr.batchSize,
		pr.recordsTotal,
		pr.changedTotal,
	)

	return pr
}

// Registry exposes the private registry, e.g. for a promhttp handler.
func (pr *PrometheusReporter) Registry() *prometheus.Registry {
	return pr.registry
}

// WriteText gathers the collected metrics and writes them in Prometheus
// text exposition format. Short-lived processes have no scrape window,
// so this is how a batch run hands its metrics on.
func (pr *PrometheusReporter) WriteText(w io.Writer) error {
	families, err := pr.registry.Gather()
	if err != nil {
		return err
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return err
		}
	}
	return nil
}

// ReportBatchExecution records one executed batch.
func (pr *PrometheusReporter) ReportBatchExecution(_ context.Context, metrics metagdb.BatchMetrics) {
	status := "success"
	if metrics.Err != nil {
		status = "error"
	}

	pr.batchDuration.WithLabelValues(metrics.Table, status).Observe(metrics.Duration.Seconds())
	pr.batchTotal.WithLabelValues(metrics.Table, status).Inc()
	pr.batchSize.WithLabelValues(metrics.Table).Observe(float64(metrics.BatchSize))
	pr.recordsTotal.WithLabelValues(metrics.Table).Add(float64(metrics.BatchSize))
	if metrics.Changed {
		pr.changedTotal.WithLabelValues(metrics.Table).Inc()
	}
}
