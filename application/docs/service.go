package docs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"consumerdocs/application/ports"
	"consumerdocs/domain/observation"
	appErrors "consumerdocs/pkg/errors"
)

const (
	// DefaultOutputPath is the file sync writes into
	DefaultOutputPath = "./CLAUDE.md"
	// DefaultStampPath records when the hook last synced
	DefaultStampPath = ".claude/.cc-last-sync"
	// DefaultCacheMinutes is how long a hook sync stays fresh
	DefaultCacheMinutes = 60
	// DefaultRecordCacheTTL bounds how stale served records may be
	DefaultRecordCacheTTL = time.Minute
)

// Service reads stored records and renders them as documentation
type Service struct {
	store    ports.ObservationStore
	cache    ports.RecordCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a docs service. cache may be nil.
func NewService(store ports.ObservationStore, cache ports.RecordCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		cache:    cache,
		cacheTTL: DefaultRecordCacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Records returns every stored record of a service
func (s *Service) Records(ctx context.Context, serviceName string) ([]observation.Record, error) {
	if strings.TrimSpace(serviceName) == "" {
		return nil, appErrors.NewValidationError("service name is required")
	}
	if s.cache != nil {
		if records, ok := s.cache.Get(ctx, serviceName); ok {
			return records, nil
		}
	}

	records, err := s.store.FetchServiceData(ctx, serviceName)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, appErrors.NewTimeoutError("FetchServiceData").WithCause(err)
		}
		if !appErrors.IsAppError(err) {
			err = appErrors.NewDatabaseError("FetchServiceData", err)
		}
		if appErrors.IsDatabase(err) {
			s.logger.Warn("Failed to read service records",
				zap.String("service", serviceName),
				zap.Error(err),
			)
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, serviceName, records, s.cacheTTL)
	}
	return records, nil
}

// KnownRecords is Records for callers that treat a service without any
// records as missing
func (s *Service) KnownRecords(ctx context.Context, serviceName string) ([]observation.Record, error) {
	records, err := s.Records(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, appErrors.NewNotFoundError(fmt.Sprintf("service '%s'", serviceName))
	}
	return records, nil
}

// KnownEndpoints is Endpoints for a service that must have records
func (s *Service) KnownEndpoints(ctx context.Context, serviceName string) ([]Endpoint, error) {
	records, err := s.KnownRecords(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return Transform(records), nil
}

// Endpoints returns the endpoint map of a service
func (s *Service) Endpoints(ctx context.Context, serviceName string) ([]Endpoint, error) {
	records, err := s.Records(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return Transform(records), nil
}

// Markdown renders the documentation of a service as markdown
func (s *Service) Markdown(ctx context.Context, serviceName string) (string, error) {
	endpoints, err := s.Endpoints(ctx, serviceName)
	if err != nil {
		return "", err
	}
	return RenderMarkdown(serviceName, endpoints), nil
}

// HTML renders the documentation of a service as an HTML fragment
func (s *Service) HTML(ctx context.Context, serviceName string) (string, error) {
	md, err := s.Markdown(ctx, serviceName)
	if err != nil {
		return "", err
	}
	html, err := RenderHTML(md)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to render documentation")
	}
	return html, nil
}

// SyncOptions controls a sync
type SyncOptions struct {
	ServiceName string
	OutputPath  string
	DryRun      bool
}

// SyncResult reports what a sync did
type SyncResult struct {
	Section   string
	Endpoints int
	Records   int
	// Written is false for dry runs and for services without records
	Written bool
}

// Sync fetches the records of a service and writes the generated section
// into the output file. Nothing is written when the service has no records.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if opts.OutputPath == "" {
		opts.OutputPath = DefaultOutputPath
	}

	records, err := s.Records(ctx, opts.ServiceName)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{Records: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	endpoints := Transform(records)
	result.Endpoints = len(endpoints)
	result.Section = GenerateSection(opts.ServiceName, endpoints)
	if opts.DryRun {
		return result, nil
	}

	if err := UpdateFile(opts.OutputPath, result.Section); err != nil {
		return nil, err
	}
	result.Written = true

	s.logger.Info("Documentation synced",
		zap.String("service", opts.ServiceName),
		zap.String("output", opts.OutputPath),
		zap.Int("endpoints", result.Endpoints),
		zap.Int("records", result.Records),
	)
	return result, nil
}

// HookOptions controls a hook run
type HookOptions struct {
	ServiceName  string
	OutputPath   string
	StampPath    string
	CacheMinutes int
}

// HookResult reports what a hook run did
type HookResult struct {
	Skipped bool
	Reason  string
	Sync    *SyncResult
}

// Hook syncs unless the previous sync is fresher than CacheMinutes. A
// project without a configured service is skipped silently. The stamp is
// only refreshed after a successful sync.
func (s *Service) Hook(ctx context.Context, opts HookOptions) (*HookResult, error) {
	if opts.ServiceName == "" {
		return &HookResult{Skipped: true, Reason: "no service configured"}, nil
	}
	if opts.StampPath == "" {
		opts.StampPath = DefaultStampPath
	}
	if opts.CacheMinutes < 0 {
		opts.CacheMinutes = DefaultCacheMinutes
	}

	if last, ok := readStamp(opts.StampPath); ok {
		age := s.now().Sub(last)
		if age < time.Duration(opts.CacheMinutes)*time.Minute {
			return &HookResult{Skipped: true, Reason: "cache is fresh"}, nil
		}
	}

	result, err := s.Sync(ctx, SyncOptions{ServiceName: opts.ServiceName, OutputPath: opts.OutputPath})
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}
	if err := writeStamp(opts.StampPath, s.now()); err != nil {
		return nil, err
	}
	return &HookResult{Sync: result}, nil
}

// readStamp parses the epoch seconds stored in the stamp file; a missing or
// corrupt stamp reads as never synced
func readStamp(path string) (time.Time, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(secs*float64(time.Second))), true
}

func writeStamp(path string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create stamp directory: %w", err)
	}
	secs := float64(at.UnixNano()) / float64(time.Second)
	if err := os.WriteFile(path, []byte(strconv.FormatFloat(secs, 'f', 6, 64)), 0o644); err != nil {
		return fmt.Errorf("failed to write stamp: %w", err)
	}
	return nil
}
