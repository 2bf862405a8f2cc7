package di

import (
	"go.uber.org/zap"

	"consumerdocs/application/capture"
	"consumerdocs/application/docs"
	"consumerdocs/application/ports"
	"consumerdocs/application/services"
	"consumerdocs/infrastructure/config"
	"consumerdocs/pkg/auth"
	"consumerdocs/pkg/observability"
)

// Container holds all application dependencies. Tracing, Validator, Limiter
// and Watcher are nil when their feature is disabled.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        ports.ObservationStore
	Metrics      *observability.Collector
	Recorder     observability.Recorder
	FlushService *services.FlushService
	Buffer       *capture.Buffer
	Tracing      *observability.TracerProvider
	Cache        *InMemoryCache
	Docs         *docs.Service
	Validator    *auth.JWTValidator
	Limiter      *auth.IPRateLimiter
	Watcher      *config.Watcher
}
