// Package memory provides a process-local observation store for tests,
// demos and the CLI's dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"consumerdocs/domain/observation"
)

// ObservationStore keeps records in a map guarded by a mutex. Each upsert
// applies the record protocol under the lock, so writes for the same key
// serialize the way a single-item update does in DynamoDB.
type ObservationStore struct {
	mu        sync.Mutex
	records   map[string]map[string]*observation.Record // partition key -> sort key -> record
	retention time.Duration
}

// NewObservationStore creates an empty store. A non-positive retention uses
// observation.DefaultRetention.
func NewObservationStore(retention time.Duration) *ObservationStore {
	if retention <= 0 {
		retention = observation.DefaultRetention
	}
	return &ObservationStore{
		records:   make(map[string]map[string]*observation.Record),
		retention: retention,
	}
}

// WriteObservation implements ports.ObservationStore
func (s *ObservationStore) WriteObservation(ctx context.Context, agg *observation.AggregatedObservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pk := observation.PartitionKey(agg.ServiceName)
	sk := observation.SortKey(agg.Caller, agg.Method, agg.PathTemplate)

	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.records[pk]
	if !ok {
		partition = make(map[string]*observation.Record)
		s.records[pk] = partition
	}
	rec, ok := partition[sk]
	if !ok {
		rec = observation.NewRecord(agg.Key())
		partition[sk] = rec
	}
	rec.Apply(agg, s.retention)
	return nil
}

// FetchServiceData implements ports.ObservationStore
func (s *ObservationStore) FetchServiceData(ctx context.Context, serviceName string) ([]observation.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	partition := s.records[observation.PartitionKey(serviceName)]
	keys := make([]string, 0, len(partition))
	for sk := range partition {
		keys = append(keys, sk)
	}
	sort.Strings(keys)

	result := make([]observation.Record, 0, len(keys))
	for _, sk := range keys {
		result = append(result, *partition[sk].Clone())
	}
	return result, nil
}

// Services lists the services that have at least one record
func (s *ObservationStore) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.records))
	for _, partition := range s.records {
		for _, rec := range partition {
			out = append(out, rec.ServiceName)
			break
		}
	}
	sort.Strings(out)
	return out
}
