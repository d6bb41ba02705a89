package metagdb

import (
	"context"
	"time"
)

// MetricsReporter receives one report per executed batch.
type MetricsReporter interface {
	ReportBatchExecution(ctx context.Context, metrics BatchMetrics)
}

// BatchMetrics describes one executed upsert batch.
type BatchMetrics struct {
	Table     string        // target relation
	BatchSize int           // records in this batch
	Duration  time.Duration // statement execution time
	Changed   bool          // whether this batch wrote any row
	Err       error         // execution error, if any
	StartTime time.Time     // execution start
}
