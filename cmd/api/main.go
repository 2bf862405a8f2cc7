package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consumerdocs/infrastructure/config"
	"consumerdocs/infrastructure/di"
	"consumerdocs/interfaces/http/capture"
	"consumerdocs/interfaces/http/rest"

	"go.uber.org/zap"
)

func main() {
	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency container
	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()

	routerCfg := rest.RouterConfig{
		Docs:           container.Docs,
		Logger:         container.Logger,
		Debug:          cfg.IsDevelopment(),
		AllowedOrigins: cfg.AllowedOrigins,
		Validator:      container.Validator,
		Limiter:        container.Limiter,
	}
	if cfg.EnableMetrics {
		routerCfg.Metrics = container.Metrics.Handler()
	}

	// Self capture goes through the span processor when tracing is on
	if container.Tracing != nil {
		routerCfg.Tracer = container.Tracing.Tracer()
	} else if cfg.CaptureSelf {
		routerCfg.Capture = capture.Middleware(capture.Config{
			ServiceName:  cfg.ServiceName,
			Sink:         container.Buffer,
			MaxBodyDepth: cfg.MaxBodyDepth,
			SkipPaths:    []string{"/health", "/metrics"},
			Logger:       container.Logger,
		})
	}

	handler := rest.NewRouter(routerCfg).Setup()

	container.Buffer.Start(ctx)
	if container.Watcher != nil {
		container.Watcher.Start()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("store", cfg.StoreBackend),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	container.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	// Stop performs the final flush of anything still buffered
	container.Buffer.Stop(shutdownCtx)

	// Clean up resources
	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
