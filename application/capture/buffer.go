// Package capture holds the in-process observation buffer that sits between
// the capture adapters and the store.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consumerdocs/domain/observation"
	"consumerdocs/pkg/common"
	"consumerdocs/pkg/observability"
)

const (
	// DefaultMaxSize is the pending count that triggers a flush
	DefaultMaxSize = 100
	// DefaultFlushInterval is the age since the last flush that triggers one
	DefaultFlushInterval = 30 * time.Second
)

// FlushFunc receives every drained batch. Errors and panics are contained by
// the buffer.
type FlushFunc func(ctx context.Context, batch []observation.Observation) error

// Sink accepts observations from capture adapters
type Sink interface {
	// Add records one observation and never blocks on I/O
	Add(obs observation.Observation)
	// Flush drains the buffer and writes the batch before returning
	Flush(ctx context.Context)
}

// Clock returns the current time
type Clock func() time.Time

// Option configures a Buffer
type Option func(*Buffer)

// WithMaxSize sets the size trigger
func WithMaxSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// WithFlushInterval sets the time trigger
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithLogger sets the logger used for contained flush failures
func WithLogger(logger *zap.Logger) Option {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r observability.Recorder) Option {
	return func(b *Buffer) {
		if r != nil {
			b.recorder = r
		}
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(c Clock) Option {
	return func(b *Buffer) {
		if c != nil {
			b.now = c
		}
	}
}

// Buffer accumulates observations and hands them to a FlushFunc in batches,
// either when MaxSize observations are pending or when FlushInterval has
// elapsed since the last flush. Draining swaps the pending slice under the
// lock, so concurrent producers never lose an observation and no observation
// is ever part of two batches.
type Buffer struct {
	flush    FlushFunc
	logger   *zap.Logger
	recorder observability.Recorder
	now      Clock

	mu            sync.Mutex
	pending       []observation.Observation
	lastFlush     time.Time
	maxSize       int
	flushInterval time.Duration

	// Background loop
	loopMu        sync.Mutex
	stopChan      chan struct{}
	stoppedChan   chan struct{}
	limitsChanged chan struct{}
}

// NewBuffer creates a buffer that delivers batches to flush
func NewBuffer(flush FlushFunc, opts ...Option) *Buffer {
	b := &Buffer{
		flush:         flush,
		logger:        zap.NewNop(),
		recorder:      observability.NopRecorder{},
		now:           time.Now,
		maxSize:       DefaultMaxSize,
		flushInterval: DefaultFlushInterval,
		limitsChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastFlush = b.now()
	return b
}

// Add appends obs and, when a trigger fires, dispatches the drained batch on
// a detached goroutine. Add never waits for the store.
func (b *Buffer) Add(obs observation.Observation) {
	b.mu.Lock()
	b.pending = append(b.pending, obs)
	pending := len(b.pending)
	var batch []observation.Observation
	if b.shouldFlushLocked() {
		batch = b.drainLocked()
	}
	b.mu.Unlock()

	b.recorder.ObservationBuffered(pending)

	if len(batch) > 0 {
		go b.safeFlush(context.Background(), batch, observability.FlushModeAsync)
	}
}

// Flush drains the buffer and runs the flush function on the calling
// goroutine. It returns once the batch has been handled; failures are logged,
// never returned.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.safeFlush(ctx, batch, observability.FlushModeSync)
	}
}

// Len returns the number of pending observations
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// SetLimits changes the triggers at runtime. Non-positive values keep the
// current setting.
func (b *Buffer) SetLimits(maxSize int, flushInterval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if maxSize > 0 {
		b.maxSize = maxSize
	}
	if flushInterval > 0 {
		b.flushInterval = flushInterval
	}

	select {
	case b.limitsChanged <- struct{}{}:
	default:
	}
}

// Limits returns the current triggers
func (b *Buffer) Limits() (int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSize, b.flushInterval
}

func (b *Buffer) shouldFlushLocked() bool {
	return len(b.pending) >= b.maxSize || b.now().Sub(b.lastFlush) >= b.flushInterval
}

// drainLocked swaps the pending slice out. Caller holds mu.
func (b *Buffer) drainLocked() []observation.Observation {
	batch := b.pending
	b.pending = nil
	b.lastFlush = b.now()
	return batch
}

// safeFlush is the containment boundary: nothing the flush function does may
// escape to the producer or crash the goroutine.
func (b *Buffer) safeFlush(ctx context.Context, batch []observation.Observation, mode observability.FlushMode) {
	batchID := uuid.New().String()
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush panicked: %v", r)
		}
		duration := time.Since(start)
		b.recorder.BatchFlushed(ctx, mode, len(batch), duration, err)
		if err != nil {
			b.logger.Warn("Failed to flush observations",
				zap.String("batchID", batchID),
				zap.String("mode", string(mode)),
				zap.Int("batchSize", len(batch)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
			return
		}
		b.logger.Debug("Flushed observations",
			zap.String("batchID", batchID),
			zap.String("mode", string(mode)),
			zap.Int("batchSize", len(batch)),
			zap.Duration("duration", duration),
		)
	}()

	err = b.flush(common.WithBatchID(ctx, batchID), batch)
}

// Start runs a background loop that applies the time trigger even when no
// observation arrives. It is optional; Add evaluates both triggers itself.
func (b *Buffer) Start(ctx context.Context) {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()
	if b.stopChan != nil {
		return
	}

	b.stopChan = make(chan struct{})
	b.stoppedChan = make(chan struct{})

	_, interval := b.Limits()
	b.logger.Info("Starting observation buffer",
		zap.Duration("interval", interval),
	)

	go b.flushLoop(ctx, b.stopChan, b.stoppedChan)
}

// Stop ends the background loop, if running, and flushes whatever is still
// pending on the calling goroutine
func (b *Buffer) Stop(ctx context.Context) {
	b.loopMu.Lock()
	stopChan, stoppedChan := b.stopChan, b.stoppedChan
	b.stopChan, b.stoppedChan = nil, nil
	b.loopMu.Unlock()

	if stopChan != nil {
		b.logger.Info("Stopping observation buffer")
		close(stopChan)
		<-stoppedChan
	}

	b.Flush(ctx)
}

func (b *Buffer) flushLoop(ctx context.Context, stopChan <-chan struct{}, stoppedChan chan<- struct{}) {
	defer close(stoppedChan)

	_, interval := b.Limits()
	tick := flushTick(interval)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		case <-b.limitsChanged:
			_, interval := b.Limits()
			if next := flushTick(interval); next != tick {
				tick = next
				ticker.Reset(tick)
				b.logger.Debug("Observation buffer interval changed", zap.Duration("interval", interval))
			}
		case <-ticker.C:
			b.flushIfDue()
		}
	}
}

// flushTick is how often the loop checks the time trigger
func flushTick(interval time.Duration) time.Duration {
	tick := interval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return tick
}

func (b *Buffer) flushIfDue() {
	b.mu.Lock()
	var batch []observation.Observation
	if len(b.pending) > 0 && b.shouldFlushLocked() {
		batch = b.drainLocked()
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		go b.safeFlush(context.Background(), batch, observability.FlushModeAsync)
	}
}
