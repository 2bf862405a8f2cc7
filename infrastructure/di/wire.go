//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"consumerdocs/application/docs"
	"consumerdocs/infrastructure/config"
)

// StoreSet provides the observation store and its AWS clients
var StoreSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideObservationStore,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	StoreSet,
	ProvideCloudWatchClient,
	ProvideCollector,
	ProvideRecorder,
	ProvideFlushService,
	ProvideBuffer,
	ProvideTracing,
	ProvideRecordCache,
	ProvideDocsService,
	ProvideJWTValidator,
	ProvideRateLimiter,
	ProvideConfigWatcher,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}

// InitializeDocsService wires only what the documentation commands need
func InitializeDocsService(ctx context.Context, cfg *config.Config) (*docs.Service, func(), error) {
	wire.Build(StoreSet, ProvideRecordCache, ProvideDocsService)
	return nil, nil, nil
}
