package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"consumerdocs/application/capture"
	"consumerdocs/application/ports"
	"consumerdocs/domain/observation"
	"consumerdocs/pkg/common"
	appErrors "consumerdocs/pkg/errors"
	"consumerdocs/pkg/observability"
)

// DefaultMaxConcurrentWrites bounds the upserts in flight per flush
const DefaultMaxConcurrentWrites = 10

// FlushServiceConfig holds the write pool and circuit breaker settings
type FlushServiceConfig struct {
	MaxConcurrentWrites int

	// Circuit breaker
	BreakerName             string
	BreakerFailureThreshold uint32        // consecutive failures that open the circuit
	BreakerTimeout          time.Duration // open -> half-open
	BreakerInterval         time.Duration // closed-state count reset
}

// DefaultFlushServiceConfig returns the default configuration
func DefaultFlushServiceConfig() FlushServiceConfig {
	return FlushServiceConfig{
		MaxConcurrentWrites:     DefaultMaxConcurrentWrites,
		BreakerName:             "observation-store",
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
		BreakerInterval:         60 * time.Second,
	}
}

// FlushService turns a drained batch into store upserts: it aggregates the
// batch and writes one record per endpoint-caller pair on a bounded worker
// pool. A failed write is logged and never aborts the others.
type FlushService struct {
	store    ports.ObservationStore
	logger   *zap.Logger
	recorder observability.Recorder
	tracer   trace.Tracer
	breaker  *gobreaker.CircuitBreaker

	maxConcurrentWrites int
}

// NewFlushService creates a new flush service
func NewFlushService(
	store ports.ObservationStore,
	logger *zap.Logger,
	recorder observability.Recorder,
	tracer trace.Tracer,
	config FlushServiceConfig,
) *FlushService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = observability.NopRecorder{}
	}
	if tracer == nil {
		tracer = observability.Tracer()
	}
	if config.MaxConcurrentWrites <= 0 {
		config.MaxConcurrentWrites = DefaultMaxConcurrentWrites
	}
	if config.BreakerFailureThreshold == 0 {
		config.BreakerFailureThreshold = 5
	}

	threshold := config.BreakerFailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     config.BreakerName,
		Interval: config.BreakerInterval,
		Timeout:  config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !isStoreFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &FlushService{
		store:               store,
		logger:              logger,
		recorder:            recorder,
		tracer:              tracer,
		breaker:             breaker,
		maxConcurrentWrites: config.MaxConcurrentWrites,
	}
}

// FlushFunc adapts the service to the buffer's flush contract
func (s *FlushService) FlushFunc() capture.FlushFunc {
	return s.FlushObservations
}

// FlushObservations aggregates batch and upserts every resulting record.
// The returned error only summarises failed writes for the caller's log;
// successful writes are never rolled back and failed ones are not retried.
func (s *FlushService) FlushObservations(ctx context.Context, batch []observation.Observation) error {
	aggregated := observation.Aggregate(batch)
	if len(aggregated) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "FlushService.FlushObservations",
		trace.WithAttributes(
			attribute.Int("batch.size", len(batch)),
			attribute.Int("batch.records", len(aggregated)),
		),
	)
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(min(len(aggregated), s.maxConcurrentWrites))
	for _, agg := range aggregated {
		g.Go(func() error {
			if err := s.writeOne(ctx, agg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == 0 {
		return nil
	}

	err := fmt.Errorf("%d of %d record writes failed: %w", len(errs), len(aggregated), errors.Join(errs...))
	observability.RecordError(span, err)
	return err
}

// writeOne upserts a single record. Panics from the store are turned into
// errors so one bad write cannot take the pool down.
func (s *FlushService) writeOne(ctx context.Context, agg *observation.AggregatedObservation) (err error) {
	key := agg.Key()
	ctx, span := s.tracer.Start(ctx, "ObservationStore.WriteObservation",
		trace.WithAttributes(
			attribute.String("service.name", key.ServiceName),
			attribute.String("caller", key.Caller),
			attribute.String("http.method", key.Method),
			attribute.String("http.route", key.PathTemplate),
			attribute.Int64("call_count", agg.CallCount),
		),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write %s panicked: %v", key, r)
		}

		outcome := observability.WriteSuccess
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome = observability.WriteRejected
		case err != nil:
			outcome = observability.WriteFailure
		}
		s.recorder.StoreWrite(ctx, outcome, time.Since(start))

		if err != nil {
			batchID, _ := common.GetBatchID(ctx)
			s.logger.Warn("Failed to write observation",
				zap.String("batchID", batchID),
				zap.String("service", key.ServiceName),
				zap.String("caller", key.Caller),
				zap.String("method", key.Method),
				zap.String("path", key.PathTemplate),
				zap.String("outcome", outcome),
				zap.Error(err),
			)
		}
		observability.RecordError(span, err)
		span.End()
	}()

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.store.WriteObservation(ctx, agg)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// isStoreFailure reports whether err says the store is unavailable. Errors
// tied to one record (a rejected item) leave the circuit closed so the rest
// of the batch and later batches are still written.
func isStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	return !appErrors.IsValidation(err)
}

// BreakerState reports the store circuit state
func (s *FlushService) BreakerState() gobreaker.State {
	return s.breaker.State()
}
