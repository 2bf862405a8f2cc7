package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the capture pipeline
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Buffer metrics
	ObservationsBuffered prometheus.Counter
	PendingObservations  prometheus.Gauge

	// Flush metrics
	BatchesFlushed *prometheus.CounterVec
	FlushFailures  *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	FlushDuration  *prometheus.HistogramVec

	// Store metrics
	StoreWrites        *prometheus.CounterVec
	StoreWriteDuration prometheus.Histogram
}

// NewCollector creates a collector with its own registry so tests and
// multiple instances never collide on the default registerer
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	buffered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_buffered_total",
			Help:      "Total number of observations added to the buffer",
		},
	)

	pending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observations_pending",
			Help:      "Observations waiting in the buffer after the last add",
		},
	)

	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Total number of drained batches handed to the flush function",
		},
		[]string{"mode"},
	)

	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Total number of flushes that returned an error or panicked",
		},
		[]string{"mode"},
	)

	batchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Observations per drained batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	flushDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Flush duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	writes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of record upserts by outcome",
		},
		[]string{"status"},
	)

	writeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Record upsert duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buffered,
		pending,
		batches,
		failures,
		batchSize,
		flushDuration,
		writes,
		writeDuration,
	)

	return &Collector{
		registry:             registry,
		ObservationsBuffered: buffered,
		PendingObservations:  pending,
		BatchesFlushed:       batches,
		FlushFailures:        failures,
		BatchSize:            batchSize,
		FlushDuration:        flushDuration,
		StoreWrites:          writes,
		StoreWriteDuration:   writeDuration,
	}
}

// Registry exposes the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObservationBuffered implements Recorder
func (c *Collector) ObservationBuffered(pending int) {
	c.ObservationsBuffered.Inc()
	c.PendingObservations.Set(float64(pending))
}

// BatchFlushed implements Recorder
func (c *Collector) BatchFlushed(_ context.Context, mode FlushMode, size int, duration time.Duration, err error) {
	c.BatchesFlushed.WithLabelValues(string(mode)).Inc()
	c.BatchSize.Observe(float64(size))
	c.FlushDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())
	if err != nil {
		c.FlushFailures.WithLabelValues(string(mode)).Inc()
	}
}

// StoreWrite implements Recorder
func (c *Collector) StoreWrite(_ context.Context, outcome string, duration time.Duration) {
	c.StoreWrites.WithLabelValues(outcome).Inc()
	c.StoreWriteDuration.Observe(duration.Seconds())
}
