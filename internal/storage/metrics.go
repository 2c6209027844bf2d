package storage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var concurrentOperations = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "blockstore_concurrent_operations",
		Help: "Number of concurrent blockstore operations",
	},
	[]string{"operation", "blockstore_type"},
)

var operationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "blockstore_operation_duration_seconds",
		Help:    "Duration of blockstore operations",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "blockstore_type", "successful"},
)

var writtenBytes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "blockstore_written_bytes_total",
		Help: "Bytes appended or staged into the blockstore",
	},
	[]string{"operation", "blockstore_type"},
)

func track(operation, blockstoreType string) func(err error) {
	start := time.Now()
	gauge := concurrentOperations.WithLabelValues(operation, blockstoreType)
	gauge.Inc()
	return func(err error) {
		gauge.Dec()
		successful := "true"
		if err != nil {
			successful = "false"
		}
		operationDuration.WithLabelValues(operation, blockstoreType, successful).Observe(time.Since(start).Seconds())
	}
}

// MetricsAppendSink reports Prometheus metrics around an AppendSink.
type MetricsAppendSink struct {
	sink           AppendSink
	blockstoreType string
}

func NewMetricsAppendSink(sink AppendSink, blockstoreType string) *MetricsAppendSink {
	return &MetricsAppendSink{sink: sink, blockstoreType: blockstoreType}
}

func (m *MetricsAppendSink) EnsureExists(ctx context.Context, target string) (err error) {
	done := track("ensure_exists", m.blockstoreType)
	defer func() { done(err) }()
	return m.sink.EnsureExists(ctx, target)
}

func (m *MetricsAppendSink) Append(ctx context.Context, target string, data []byte) (err error) {
	done := track("append", m.blockstoreType)
	defer func() { done(err) }()
	err = m.sink.Append(ctx, target, data)
	if err == nil {
		writtenBytes.WithLabelValues("append", m.blockstoreType).Add(float64(len(data)))
	}
	return err
}

// MetricsBlockSink reports Prometheus metrics around a StagedBlockSink.
type MetricsBlockSink struct {
	sink           StagedBlockSink
	blockstoreType string
}

func NewMetricsBlockSink(sink StagedBlockSink, blockstoreType string) *MetricsBlockSink {
	return &MetricsBlockSink{sink: sink, blockstoreType: blockstoreType}
}

func (m *MetricsBlockSink) StageBlock(ctx context.Context, target, id string, data []byte) (err error) {
	done := track("stage_block", m.blockstoreType)
	defer func() { done(err) }()
	err = m.sink.StageBlock(ctx, target, id, data)
	if err == nil {
		writtenBytes.WithLabelValues("stage_block", m.blockstoreType).Add(float64(len(data)))
	}
	return err
}

func (m *MetricsBlockSink) Commit(ctx context.Context, target string, ids []string) (err error) {
	done := track("commit", m.blockstoreType)
	defer func() { done(err) }()
	return m.sink.Commit(ctx, target, ids)
}
