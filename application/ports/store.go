package ports

import (
	"context"
	"time"

	"consumerdocs/domain/observation"
)

// ObservationStore defines the interface for observation persistence.
// This is a port in hexagonal architecture - the pipeline doesn't know about
// the backing table.
type ObservationStore interface {
	// WriteObservation upserts one summary into its durable record. The write
	// is a single-record atomic partial update: counts add, sets union,
	// first seen is kept, last seen and expiry are overwritten.
	WriteObservation(ctx context.Context, agg *observation.AggregatedObservation) error

	// FetchServiceData returns every record of a service in sort-key order.
	// A failure on any page fails the whole read.
	FetchServiceData(ctx context.Context, serviceName string) ([]observation.Record, error)
}

// RecordCache caches the records of a service for readers that render the
// same data repeatedly
type RecordCache interface {
	// Get retrieves the cached records for a service
	Get(ctx context.Context, serviceName string) ([]observation.Record, bool)

	// Set stores records for a service with the given TTL
	Set(ctx context.Context, serviceName string, records []observation.Record, ttl time.Duration)

	// Delete removes the cached records of a service
	Delete(ctx context.Context, serviceName string)
}
