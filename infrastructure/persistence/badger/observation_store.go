// Package badger stores observation records in an embedded BadgerDB. It is
// the backend for single-process local runs where no DynamoDB table exists.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"consumerdocs/domain/observation"
	appErrors "consumerdocs/pkg/errors"
)

const (
	maxConflictRetries = 10
	minEntryTTL        = time.Second
)

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// Retention is how long a record lives after its last write
	Retention time.Duration
}

// ObservationStore implements ports.ObservationStore on BadgerDB. Every upsert
// is a read-modify-write inside one serializable transaction; conflicting
// concurrent upserts of the same key are retried.
type ObservationStore struct {
	db        *badger.DB
	retention time.Duration
	logger    *zap.Logger
}

// New opens the database described by cfg
func New(cfg Config, logger *zap.Logger) (*ObservationStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = observation.DefaultRetention
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(badgerLogger{logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &ObservationStore{
		db:        db,
		retention: cfg.Retention,
		logger:    logger,
	}, nil
}

// WriteObservation implements ports.ObservationStore
func (s *ObservationStore) WriteObservation(ctx context.Context, agg *observation.AggregatedObservation) error {
	key := recordKey(agg.ServiceName, agg.Caller, agg.Method, agg.PathTemplate)

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			return s.upsert(txn, key, agg)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug("Retrying conflicting upsert",
			zap.String("key", string(key)),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", agg.Key(), err)
	}
	return nil
}

func (s *ObservationStore) upsert(txn *badger.Txn, key []byte, agg *observation.AggregatedObservation) error {
	var rec *observation.Record

	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		rec = observation.NewRecord(agg.Key())
	case err != nil:
		return fmt.Errorf("failed to read record: %w", err)
	default:
		if err := item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		}); err != nil {
			return appErrors.NewValidationError("failed to decode record").WithCause(err)
		}
	}

	rec.Apply(agg, s.retention)

	value, err := encodeRecord(rec)
	if err != nil {
		return appErrors.NewValidationError("failed to encode record").WithCause(err)
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl < minEntryTTL {
		ttl = minEntryTTL
	}
	// Oversized keys or values are rejected per entry
	if err := txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl)); err != nil {
		return appErrors.NewValidationError("record rejected").WithCause(err)
	}
	return nil
}

// FetchServiceData implements ports.ObservationStore. Keys share the
// service's prefix, so a prefix scan returns the partition in sort-key order.
func (s *ObservationStore) FetchServiceData(ctx context.Context, serviceName string) ([]observation.Record, error) {
	prefix := partitionPrefix(serviceName)
	var records []observation.Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				records = append(records, *rec)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode %q: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError("FetchServiceData", err)
	}

	if records == nil {
		records = []observation.Record{}
	}
	return records, nil
}

// RunGC reclaims value log space from overwritten records
func (s *ObservationStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close shuts down BadgerDB cleanly
func (s *ObservationStore) Close() error {
	return s.db.Close()
}

func partitionPrefix(serviceName string) []byte {
	return []byte(observation.PartitionKey(serviceName) + "#CALLER#")
}

func recordKey(serviceName, caller, method, pathTemplate string) []byte {
	return []byte(observation.PartitionKey(serviceName) + "#" + observation.SortKey(caller, method, pathTemplate))
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
