package otelcapture

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"consumerdocs/domain/observation"
)

type fakeSink struct {
	mu      sync.Mutex
	obs     []observation.Observation
	flushes int
}

func (s *fakeSink) Add(o observation.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, o)
}

func (s *fakeSink) Flush(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func setup(t *testing.T) (*fakeSink, trace.Tracer, *sdktrace.TracerProvider) {
	t.Helper()
	sink := &fakeSink{}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanProcessor("orders-api", sink, nil)))
	return sink, tp.Tracer("test"), tp
}

func endSpan(tracer trace.Tracer, kind trace.SpanKind, attrs ...attribute.KeyValue) {
	_, span := tracer.Start(context.Background(), "request", trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
	span.End()
}

func TestSpanProcessor_CurrentConventions(t *testing.T) {
	sink, tracer, _ := setup(t)

	endSpan(tracer, trace.SpanKindServer,
		attribute.String("http.request.method", "GET"),
		attribute.String("http.route", "/orders/{id}"),
		attribute.String("url.path", "/orders/9"),
		attribute.String("url.query", "expand=items&page=2"),
		attribute.Int("http.response.status_code", 404),
		attribute.StringSlice("http.request.header.x-service-name", []string{"checkout"}),
		attribute.StringSlice("http.request.header.x-correlation-id", []string{"abc"}),
	)

	require.Len(t, sink.obs, 1)
	obs := sink.obs[0]
	assert.Equal(t, "orders-api", obs.ServiceName)
	assert.Equal(t, "checkout", obs.Caller)
	assert.Equal(t, "GET", obs.Method)
	assert.Equal(t, "/orders/{id}", obs.PathTemplate)
	assert.Equal(t, 404, obs.StatusCode)
	assert.Equal(t, []string{"expand", "page"}, obs.QueryParams.Sorted())
	assert.Equal(t, []string{"x-correlation-id", "x-service-name"}, obs.RequestHeaders.Sorted())
	assert.Empty(t, obs.RequestFields)
	assert.False(t, obs.Timestamp.IsZero())
}

func TestSpanProcessor_LegacyConventions(t *testing.T) {
	sink, tracer, _ := setup(t)

	endSpan(tracer, trace.SpanKindServer,
		attribute.String("http.method", "post"),
		attribute.String("http.target", "/carts/123?coupon=x"),
		attribute.Int("http.status_code", 201),
		attribute.String("http.user_agent", "mobile-app/4.2"),
		attribute.StringSlice("http.request.header.x_tenant", []string{"t1"}),
	)

	require.Len(t, sink.obs, 1)
	obs := sink.obs[0]
	assert.Equal(t, "POST", obs.Method)
	assert.Equal(t, "/carts/{id}", obs.PathTemplate)
	assert.Equal(t, 201, obs.StatusCode)
	assert.Equal(t, "mobile-app", obs.Caller)
	assert.Equal(t, []string{"coupon"}, obs.QueryParams.Sorted())
	assert.Equal(t, []string{"x-tenant"}, obs.RequestHeaders.Sorted())
}

func TestSpanProcessor_IgnoresNonServerAndNonHTTPSpans(t *testing.T) {
	sink, tracer, _ := setup(t)

	endSpan(tracer, trace.SpanKindClient,
		attribute.String("http.request.method", "GET"),
		attribute.String("url.path", "/upstream"),
	)
	endSpan(tracer, trace.SpanKindServer, attribute.String("rpc.system", "grpc"))
	endSpan(tracer, trace.SpanKindInternal, attribute.String("http.method", "GET"))

	assert.Empty(t, sink.obs)
}

func TestSpanProcessor_MissingStatusReadsAsOK(t *testing.T) {
	sink, tracer, _ := setup(t)

	endSpan(tracer, trace.SpanKindServer,
		attribute.String("http.request.method", "DELETE"),
		attribute.String("http.route", "/items/{sku}"),
	)

	require.Len(t, sink.obs, 1)
	assert.Equal(t, 200, sink.obs[0].StatusCode)
}

func TestSpanProcessor_ShutdownFlushes(t *testing.T) {
	sink, _, tp := setup(t)

	require.NoError(t, tp.ForceFlush(context.Background()))
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Equal(t, 2, sink.flushes)
}
