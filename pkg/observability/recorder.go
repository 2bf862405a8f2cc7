package observability

import (
	"context"
	"time"
)

// FlushMode tells how a batch left the buffer
type FlushMode string

const (
	// FlushModeAsync is a size or time triggered flush on a detached goroutine
	FlushModeAsync FlushMode = "async"
	// FlushModeSync is an explicit flush on the caller's goroutine
	FlushModeSync FlushMode = "sync"
)

// Store write outcomes
const (
	WriteSuccess  = "success"
	WriteFailure  = "failure"
	WriteRejected = "rejected" // circuit open
)

// Recorder receives pipeline measurements. Implementations must be safe for
// concurrent use and must never block the caller on I/O for long.
type Recorder interface {
	ObservationBuffered(pending int)
	BatchFlushed(ctx context.Context, mode FlushMode, size int, duration time.Duration, err error)
	StoreWrite(ctx context.Context, outcome string, duration time.Duration)
}

// NopRecorder discards every measurement
type NopRecorder struct{}

func (NopRecorder) ObservationBuffered(int) {}

func (NopRecorder) BatchFlushed(context.Context, FlushMode, int, time.Duration, error) {}

func (NopRecorder) StoreWrite(context.Context, string, time.Duration) {}

type multiRecorder []Recorder

// MultiRecorder fans measurements out to several recorders. Nil entries are
// skipped.
func MultiRecorder(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return NopRecorder{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiRecorder) ObservationBuffered(pending int) {
	for _, r := range m {
		r.ObservationBuffered(pending)
	}
}

func (m multiRecorder) BatchFlushed(ctx context.Context, mode FlushMode, size int, duration time.Duration, err error) {
	for _, r := range m {
		r.BatchFlushed(ctx, mode, size, duration, err)
	}
}

func (m multiRecorder) StoreWrite(ctx context.Context, outcome string, duration time.Duration) {
	for _, r := range m {
		r.StoreWrite(ctx, outcome, duration)
	}
}
