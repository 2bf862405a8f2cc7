package di

import (
	"context"
	"fmt"
	"time"

	"consumerdocs/application/capture"
	"consumerdocs/application/docs"
	"consumerdocs/application/ports"
	"consumerdocs/application/services"
	"consumerdocs/infrastructure/config"
	"consumerdocs/infrastructure/persistence/badger"
	"consumerdocs/infrastructure/persistence/dynamodb"
	"consumerdocs/infrastructure/persistence/memory"
	"consumerdocs/interfaces/otelcapture"
	"consumerdocs/pkg/auth"
	"consumerdocs/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideObservationStore selects the configured store backend. The cleanup
// closes stores that hold local resources.
func ProvideObservationStore(
	cfg *config.Config,
	client *awsdynamodb.Client,
	logger *zap.Logger,
) (ports.ObservationStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("Using in-memory observation store; records are lost on exit")
		return memory.NewObservationStore(cfg.Retention()), func() {}, nil

	case config.StoreBadger:
		store, err := badger.New(badger.Config{
			Path:      cfg.BadgerPath,
			Retention: cfg.Retention(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		stop := make(chan struct{})
		done := make(chan struct{})
		go runBadgerGC(store, badgerGCInterval, stop, done, logger)

		cleanup := func() {
			close(stop)
			<-done
			if err := store.Close(); err != nil {
				logger.Error("Failed to close badger store", zap.Error(err))
			}
		}
		return store, cleanup, nil

	default:
		return dynamodb.NewObservationStore(client, cfg.TableName, cfg.Retention(), logger), func() {}, nil
	}
}

// badgerGCInterval is how often the value log is compacted
const badgerGCInterval = 10 * time.Minute

// runBadgerGC reclaims value log space from overwritten records until stop
// is closed
func runBadgerGC(store *badger.ObservationStore, every time.Duration, stop <-chan struct{}, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				logger.Warn("Badger value log GC failed", zap.Error(err))
				continue
			}
			logger.Debug("Badger value log GC completed", zap.Duration("duration", time.Since(start)))
		case <-stop:
			return
		}
	}
}

// ProvideCollector creates the Prometheus collector
func ProvideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.MetricsNamespace)
}

// ProvideRecorder fans pipeline metrics out to Prometheus and, on Lambda,
// to CloudWatch
func ProvideRecorder(
	cfg *config.Config,
	collector *observability.Collector,
	client *awscloudwatch.Client,
	logger *zap.Logger,
) observability.Recorder {
	if !cfg.EnableMetrics {
		return observability.NopRecorder{}
	}
	if !cfg.IsLambda {
		return collector
	}

	namespace := fmt.Sprintf("ConsumerDocs/%s", cfg.Environment)
	return observability.MultiRecorder(
		collector,
		observability.NewCloudWatchRecorder(namespace, cfg.ServiceName, client, logger),
	)
}

// ProvideFlushService creates the aggregate-and-upsert service
func ProvideFlushService(
	cfg *config.Config,
	store ports.ObservationStore,
	recorder observability.Recorder,
	logger *zap.Logger,
) *services.FlushService {
	flushCfg := services.DefaultFlushServiceConfig()
	flushCfg.MaxConcurrentWrites = cfg.MaxConcurrentWrites
	return services.NewFlushService(store, logger, recorder, observability.Tracer(), flushCfg)
}

// ProvideBuffer creates the observation buffer
func ProvideBuffer(
	cfg *config.Config,
	flushService *services.FlushService,
	recorder observability.Recorder,
	logger *zap.Logger,
) *capture.Buffer {
	return capture.NewBuffer(flushService.FlushFunc(),
		capture.WithMaxSize(cfg.BufferMaxSize),
		capture.WithFlushInterval(cfg.BufferFlushInterval),
		capture.WithLogger(logger),
		capture.WithRecorder(recorder),
	)
}

// ProvideTracing installs the OTLP tracer provider when tracing is enabled.
// With self capture on, served spans feed the buffer through the span
// processor. A nil provider means tracing is off.
func ProvideTracing(
	cfg *config.Config,
	buffer *capture.Buffer,
	logger *zap.Logger,
) (*observability.TracerProvider, func(), error) {
	if !cfg.EnableTracing {
		return nil, func() {}, nil
	}

	var processors []sdktrace.SpanProcessor
	if cfg.CaptureSelf {
		processors = append(processors, otelcapture.NewSpanProcessor(cfg.ServiceName, buffer, logger))
	}

	tp, err := observability.InitTracing(cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint, processors...)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Failed to shut down tracer provider", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideRecordCache creates the in-process record cache
func ProvideRecordCache() (*InMemoryCache, func()) {
	cache := NewInMemoryCache()
	return cache, cache.Close
}

// ProvideDocsService creates the documentation service
func ProvideDocsService(store ports.ObservationStore, cache *InMemoryCache, logger *zap.Logger) *docs.Service {
	return docs.NewService(store, cache, logger)
}

// ProvideJWTValidator enables bearer-token auth when a secret is configured
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
	})
}

// ProvideRateLimiter enables per-IP rate limiting when a limit is configured
func ProvideRateLimiter(cfg *config.Config) *auth.IPRateLimiter {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	return auth.NewIPRateLimiter(cfg.RateLimitPerMinute)
}

// ProvideConfigWatcher watches the YAML overlay, when one is configured, and
// pushes changed buffer limits into the running buffer
func ProvideConfigWatcher(
	cfg *config.Config,
	buffer *capture.Buffer,
	logger *zap.Logger,
) (*config.Watcher, func(), error) {
	if cfg.ConfigFile == "" || cfg.IsLambda {
		return nil, func() {}, nil
	}

	watcher, err := config.NewWatcher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	watcher.Subscribe(func(limits config.BufferLimits) {
		buffer.SetLimits(limits.MaxSize, limits.FlushInterval)
	})
	return watcher, watcher.Stop, nil
}
