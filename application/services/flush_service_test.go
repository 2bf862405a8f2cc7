package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consumerdocs/application/capture"
	"consumerdocs/domain/observation"
	"consumerdocs/infrastructure/persistence/memory"
	appErrors "consumerdocs/pkg/errors"
	"consumerdocs/pkg/observability"
)

// fakeStore lets tests script failures and observe concurrency
type fakeStore struct {
	mu        sync.Mutex
	written   []observation.Key
	failFor   map[string]bool
	rejectFor map[string]bool
	panicFor  map[string]bool
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeStore) WriteObservation(ctx context.Context, agg *observation.AggregatedObservation) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicFor[agg.Caller] {
		panic("driver exploded")
	}
	if f.failFor[agg.Caller] {
		return errors.New("write refused")
	}
	if f.rejectFor[agg.Caller] {
		return appErrors.NewValidationError("item too large")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, agg.Key())
	return nil
}

func (f *fakeStore) FetchServiceData(ctx context.Context, serviceName string) ([]observation.Record, error) {
	return nil, nil
}

// countingRecorder tallies store write outcomes
type countingRecorder struct {
	observability.NopRecorder
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) StoreWrite(_ context.Context, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func obsFor(caller string) observation.Observation {
	return observation.Observation{
		ServiceName:   "my-api",
		Caller:        caller,
		Method:        "GET",
		PathTemplate:  "/api/orders",
		RequestFields: observation.NewStringSet("id"),
		StatusCode:    200,
		Timestamp:     time.Now().UTC(),
	}
}

func TestFlushObservations_WritesAggregatedRecords(t *testing.T) {
	store := memory.NewObservationStore(0)
	svc := NewFlushService(store, zap.NewNop(), nil, nil, DefaultFlushServiceConfig())

	batch := []observation.Observation{obsFor("checkout"), obsFor("checkout"), obsFor("billing")}
	require.NoError(t, svc.FlushObservations(context.Background(), batch))

	records, err := store.FetchServiceData(context.Background(), "my-api")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "billing", records[0].Caller)
	assert.Equal(t, int64(1), records[0].CallCount)
	assert.Equal(t, "checkout", records[1].Caller)
	assert.Equal(t, int64(2), records[1].CallCount)
}

func TestFlushObservations_EmptyBatchTouchesNothing(t *testing.T) {
	store := &fakeStore{}
	svc := NewFlushService(store, zap.NewNop(), nil, nil, DefaultFlushServiceConfig())

	assert.NoError(t, svc.FlushObservations(context.Background(), nil))
	assert.Empty(t, store.written)
}

func TestFlushObservations_OneFailureDoesNotBlockOthers(t *testing.T) {
	store := &fakeStore{failFor: map[string]bool{"billing": true}}
	recorder := &countingRecorder{}
	svc := NewFlushService(store, zap.NewNop(), recorder, nil, DefaultFlushServiceConfig())

	batch := []observation.Observation{obsFor("checkout"), obsFor("billing"), obsFor("search")}
	err := svc.FlushObservations(context.Background(), batch)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 record writes failed")
	assert.Len(t, store.written, 2)
	assert.Equal(t, 2, recorder.outcomes[observability.WriteSuccess])
	assert.Equal(t, 1, recorder.outcomes[observability.WriteFailure])
}

func TestFlushObservations_PanickingWriteContained(t *testing.T) {
	store := &fakeStore{panicFor: map[string]bool{"billing": true}}
	svc := NewFlushService(store, zap.NewNop(), nil, nil, DefaultFlushServiceConfig())

	var err error
	assert.NotPanics(t, func() {
		err = svc.FlushObservations(context.Background(), []observation.Observation{obsFor("checkout"), obsFor("billing")})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Len(t, store.written, 1)
}

func TestFlushObservations_BoundedConcurrency(t *testing.T) {
	store := &fakeStore{delay: 20 * time.Millisecond}
	config := DefaultFlushServiceConfig()
	config.MaxConcurrentWrites = 3
	svc := NewFlushService(store, zap.NewNop(), nil, nil, config)

	batch := make([]observation.Observation, 0, 12)
	for _, caller := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		batch = append(batch, obsFor(caller))
	}
	require.NoError(t, svc.FlushObservations(context.Background(), batch))

	assert.Len(t, store.written, 12)
	assert.LessOrEqual(t, store.maxInFlight.Load(), int32(3))
	assert.Greater(t, store.maxInFlight.Load(), int32(1))
}

func TestFlushObservations_BreakerOpensOnDeadStore(t *testing.T) {
	failing := map[string]bool{}
	callers := []string{"a", "b", "c", "d", "e", "f"}
	for _, c := range callers {
		failing[c] = true
	}
	store := &fakeStore{failFor: failing}
	recorder := &countingRecorder{}
	config := DefaultFlushServiceConfig()
	config.MaxConcurrentWrites = 1
	config.BreakerFailureThreshold = 2
	config.BreakerTimeout = time.Hour
	svc := NewFlushService(store, zap.NewNop(), recorder, nil, config)

	batch := make([]observation.Observation, 0, len(callers))
	for _, c := range callers {
		batch = append(batch, obsFor(c))
	}
	require.Error(t, svc.FlushObservations(context.Background(), batch))

	assert.Equal(t, gobreaker.StateOpen, svc.BreakerState())
	assert.Equal(t, 2, recorder.outcomes[observability.WriteFailure])
	assert.Equal(t, 4, recorder.outcomes[observability.WriteRejected])
}

func TestFlushObservations_RejectedRecordsLeaveBreakerClosed(t *testing.T) {
	store := &fakeStore{rejectFor: map[string]bool{"b1": true, "b2": true, "b3": true, "b4": true, "b5": true}}
	recorder := &countingRecorder{}
	config := DefaultFlushServiceConfig()
	config.MaxConcurrentWrites = 1
	svc := NewFlushService(store, zap.NewNop(), recorder, nil, config)

	batch := make([]observation.Observation, 0, 8)
	for _, c := range []string{"b1", "b2", "b3", "b4", "b5", "good1", "good2", "good3"} {
		batch = append(batch, obsFor(c))
	}
	err := svc.FlushObservations(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 of 8 record writes failed")

	assert.Equal(t, gobreaker.StateClosed, svc.BreakerState())
	assert.ElementsMatch(t, []string{"good1", "good2", "good3"}, writtenCallers(store))
	assert.Equal(t, 5, recorder.outcomes[observability.WriteFailure])
	assert.Zero(t, recorder.outcomes[observability.WriteRejected])

	require.NoError(t, svc.FlushObservations(context.Background(), []observation.Observation{obsFor("good4")}))
	assert.Contains(t, writtenCallers(store), "good4")
}

func writtenCallers(f *fakeStore) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.written))
	for _, k := range f.written {
		out = append(out, k.Caller)
	}
	return out
}

func TestFlushFunc_DrivesBufferIntoStore(t *testing.T) {
	store := memory.NewObservationStore(0)
	svc := NewFlushService(store, zap.NewNop(), nil, nil, DefaultFlushServiceConfig())
	buf := capture.NewBuffer(svc.FlushFunc(), capture.WithMaxSize(1000))

	for i := 0; i < 25; i++ {
		buf.Add(obsFor("checkout"))
	}
	buf.Flush(context.Background())

	records, err := store.FetchServiceData(context.Background(), "my-api")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(25), records[0].CallCount)
}
