package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consumerdocs/domain/observation"
	"consumerdocs/pkg/common"
)

// recordingFlush collects every batch it receives
type recordingFlush struct {
	mu      sync.Mutex
	batches [][]observation.Observation
	delay   time.Duration
	err     error
}

func (r *recordingFlush) flush(ctx context.Context, batch []observation.Observation) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

func (r *recordingFlush) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func (r *recordingFlush) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testObservation(path string) observation.Observation {
	return observation.Observation{
		ServiceName:  "my-api",
		Caller:       "checkout",
		Method:       "GET",
		PathTemplate: path,
		StatusCode:   200,
		Timestamp:    time.Now().UTC(),
	}
}

func TestBuffer_FlushesAtMaxSize(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(3), WithFlushInterval(time.Hour))

	buf.Add(testObservation("/a"))
	buf.Add(testObservation("/b"))
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 0, rec.batchCount())

	buf.Add(testObservation("/c"))

	assert.Eventually(t, func() bool { return rec.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 3, rec.total())
}

func TestBuffer_FlushesAfterInterval(t *testing.T) {
	clock := newFakeClock()
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(100), WithFlushInterval(30*time.Second), WithClock(clock.Now))

	buf.Add(testObservation("/a"))
	assert.Equal(t, 1, buf.Len())

	clock.Advance(31 * time.Second)
	buf.Add(testObservation("/b"))

	assert.Eventually(t, func() bool { return rec.total() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, buf.Len())
}

func TestBuffer_ConcurrentProducersLoseNothing(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(7), WithFlushInterval(time.Hour))

	const producers = 8
	const perProducer = 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Add(testObservation(fmt.Sprintf("/orders/%d/%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	buf.Flush(context.Background())

	assert.Eventually(t, func() bool { return rec.total() == producers*perProducer }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := make(map[string]int, producers*perProducer)
	for _, batch := range rec.batches {
		assert.NotEmpty(t, batch)
		for _, obs := range batch {
			seen[obs.PathTemplate]++
		}
	}
	require.Len(t, seen, producers*perProducer, "every observation is flushed")
	for path, n := range seen {
		assert.Equal(t, 1, n, "%s flushed more than once", path)
	}
}

func TestBuffer_AddDoesNotWaitForFlush(t *testing.T) {
	rec := &recordingFlush{delay: 300 * time.Millisecond}
	buf := NewBuffer(rec.flush, WithMaxSize(1), WithFlushInterval(time.Hour))

	start := time.Now()
	for i := 0; i < 5; i++ {
		buf.Add(testObservation("/slow"))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.total() == 5 }, 2*time.Second, 10*time.Millisecond)
}

func TestBuffer_FlushIsSynchronous(t *testing.T) {
	rec := &recordingFlush{delay: 20 * time.Millisecond}
	buf := NewBuffer(rec.flush)

	buf.Add(testObservation("/a"))
	buf.Add(testObservation("/b"))
	buf.Flush(context.Background())

	assert.Equal(t, 2, rec.total())
	assert.Equal(t, 0, buf.Len())
}

func TestBuffer_EmptyFlushSkipped(t *testing.T) {
	var calls atomic.Int32
	buf := NewBuffer(func(ctx context.Context, batch []observation.Observation) error {
		calls.Add(1)
		return nil
	})

	buf.Flush(context.Background())
	buf.Flush(context.Background())

	assert.Equal(t, int32(0), calls.Load())
}

func TestBuffer_FlushErrorContained(t *testing.T) {
	rec := &recordingFlush{err: errors.New("store down")}
	buf := NewBuffer(rec.flush, WithMaxSize(1), WithLogger(zap.NewNop()))

	assert.NotPanics(t, func() {
		buf.Add(testObservation("/a"))
		buf.Add(testObservation("/b"))
		buf.Flush(context.Background())
	})
	assert.Eventually(t, func() bool { return rec.total() == 2 }, time.Second, 5*time.Millisecond)

	// The buffer keeps working after failures
	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	buf.Add(testObservation("/c"))
	assert.Eventually(t, func() bool { return rec.total() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBuffer_FlushPanicContained(t *testing.T) {
	var calls atomic.Int32
	buf := NewBuffer(func(ctx context.Context, batch []observation.Observation) error {
		calls.Add(1)
		panic("boom")
	}, WithMaxSize(1))

	assert.NotPanics(t, func() {
		buf.Add(testObservation("/a"))
		buf.Flush(context.Background())
	})
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() {
		buf.Add(testObservation("/b"))
		buf.Flush(context.Background())
	})
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBuffer_FlushCarriesBatchID(t *testing.T) {
	var batchID string
	buf := NewBuffer(func(ctx context.Context, batch []observation.Observation) error {
		batchID, _ = common.GetBatchID(ctx)
		return nil
	})

	buf.Add(testObservation("/a"))
	buf.Flush(context.Background())

	assert.NotEmpty(t, batchID)
}

func TestBuffer_SetLimits(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(100), WithFlushInterval(time.Hour))

	buf.SetLimits(2, 0)
	maxSize, interval := buf.Limits()
	assert.Equal(t, 2, maxSize)
	assert.Equal(t, time.Hour, interval)

	buf.Add(testObservation("/a"))
	buf.Add(testObservation("/b"))
	assert.Eventually(t, func() bool { return rec.total() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBuffer_StartAppliesTimeTrigger(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(100), WithFlushInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)
	defer buf.Stop(context.Background())

	buf.Add(testObservation("/a"))

	assert.Eventually(t, func() bool { return rec.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBuffer_StartFollowsShorterInterval(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(100), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)
	defer buf.Stop(context.Background())

	buf.Add(testObservation("/a"))
	buf.SetLimits(0, 40*time.Millisecond)

	assert.Eventually(t, func() bool { return rec.total() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.batchCount())
}

func TestFlushTick(t *testing.T) {
	assert.Equal(t, 15*time.Minute, flushTick(time.Hour))
	assert.Equal(t, 10*time.Millisecond, flushTick(20*time.Millisecond))
}

func TestBuffer_StopFlushesPending(t *testing.T) {
	rec := &recordingFlush{}
	buf := NewBuffer(rec.flush, WithMaxSize(100), WithFlushInterval(time.Hour))
	buf.Start(context.Background())

	buf.Add(testObservation("/a"))
	buf.Add(testObservation("/b"))
	buf.Stop(context.Background())

	require.Equal(t, 2, rec.total())
	assert.Equal(t, 0, buf.Len())

	// Stop is safe to repeat
	assert.NotPanics(t, func() { buf.Stop(context.Background()) })
}
