package main

import (
	"context"
	"log"
	"time"

	"consumerdocs/infrastructure/config"
	"consumerdocs/infrastructure/di"
	"consumerdocs/interfaces/http/rest"
	lambdacapture "consumerdocs/interfaces/lambda"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"go.uber.org/zap"
)

// Global variables for Lambda lifecycle management
var (
	// chiLambda wraps the Chi router for AWS Lambda integration
	chiLambda *chiadapter.ChiLambdaV2

	// container holds the dependency injection container
	container *di.Container

	// handler is the router wrapped by the traffic tracker
	handler lambdacapture.HTTPHandler

	// coldStart tracks whether this is a cold start invocation
	coldStart = true

	// coldStartTime records when the cold start began
	coldStartTime time.Time
)

// init runs during cold start
func init() {
	coldStartTime = time.Now()
	log.Println("Lambda cold start initiated")

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.IsLambda = true

	// The cleanup never runs: the execution environment is frozen, not
	// stopped, and every invocation flushes its own observations.
	container, _, err = di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	router := rest.NewRouter(rest.RouterConfig{
		Docs:           container.Docs,
		Logger:         container.Logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Validator:      container.Validator,
		Limiter:        container.Limiter,
	})
	chiLambda = chiadapter.NewV2(router.Setup())

	handler = chiLambda.ProxyWithContextV2
	if cfg.CaptureSelf {
		tracker := lambdacapture.NewTracker(lambdacapture.TrackerConfig{
			ServiceName:  cfg.ServiceName,
			Sink:         container.Buffer,
			MaxBodyDepth: cfg.MaxBodyDepth,
			Logger:       container.Logger,
		})
		handler = tracker.WrapHTTP(handler)
	}

	log.Printf("Lambda cold start completed in %v", time.Since(coldStartTime))
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := handler(ctx, req)

	// Add custom headers for monitoring
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}

	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		resp.Headers["X-Cold-Start-Duration"] = time.Since(coldStartTime).String()
		coldStart = false
	} else {
		resp.Headers["X-Cold-Start"] = "false"
	}

	if req.RequestContext.RequestID != "" {
		resp.Headers["X-Request-ID"] = req.RequestContext.RequestID
	}

	if resp.StatusCode >= 400 {
		container.Logger.Warn("Lambda error response",
			zap.String("method", req.RequestContext.HTTP.Method),
			zap.String("path", req.RequestContext.HTTP.Path),
			zap.String("request_id", req.RequestContext.RequestID),
			zap.Int("status_code", resp.StatusCode),
		)
	}

	return resp, err
}

// main is the entry point for the Lambda function
func main() {
	lambda.Start(Handler)
}
