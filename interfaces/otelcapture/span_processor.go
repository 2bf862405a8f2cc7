// Package otelcapture derives observations from OpenTelemetry server spans,
// for services that are already instrumented and should not carry a second
// HTTP middleware. Spans carry no bodies, so request fields stay empty.
package otelcapture

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	appcapture "consumerdocs/application/capture"
	"consumerdocs/domain/observation"
	"consumerdocs/pkg/extract"
)

// Attribute keys, current semantic conventions first then the older names
var (
	methodKeys = []attribute.Key{"http.request.method", "http.method"}
	routeKeys  = []attribute.Key{"http.route"}
	pathKeys   = []attribute.Key{"url.path", "http.target"}
	statusKeys = []attribute.Key{"http.response.status_code", "http.status_code"}
	queryKeys  = []attribute.Key{"url.query"}
	agentKeys  = []attribute.Key{"user_agent.original", "http.user_agent"}
)

const requestHeaderPrefix = "http.request.header."

// SpanProcessor turns every finished server span with HTTP attributes into
// an observation
type SpanProcessor struct {
	serviceName string
	sink        appcapture.Sink
	resolve     extract.CallerResolver
	logger      *zap.Logger
}

var _ sdktrace.SpanProcessor = (*SpanProcessor)(nil)

// NewSpanProcessor creates a span processor feeding sink
func NewSpanProcessor(serviceName string, sink appcapture.Sink, logger *zap.Logger) *SpanProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanProcessor{
		serviceName: serviceName,
		sink:        sink,
		resolve:     extract.ResolveCaller,
		logger:      logger,
	}
}

// OnStart does nothing; the status code is only known at the end
func (p *SpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd records the span when it describes a served HTTP request
func (p *SpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.SpanKind() != trace.SpanKindServer {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("Failed to record span observation", zap.Any("panic", rec))
		}
	}()

	attrs := make(map[attribute.Key]attribute.Value, len(s.Attributes()))
	headers := make(http.Header)
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value
		if name, ok := strings.CutPrefix(string(kv.Key), requestHeaderPrefix); ok {
			addHeader(headers, name, kv.Value)
		}
	}

	method := firstString(attrs, methodKeys)
	if method == "" {
		return
	}

	target := firstString(attrs, pathKeys)
	path, rawQuery, _ := strings.Cut(target, "?")
	if q := firstString(attrs, queryKeys); q != "" {
		rawQuery = strings.TrimPrefix(q, "?")
	}

	template := firstString(attrs, routeKeys)
	if template == "" {
		template = extract.NormalizePath(path)
	}

	if headers.Get("User-Agent") == "" {
		if ua := firstString(attrs, agentKeys); ua != "" {
			headers.Set("User-Agent", ua)
		}
	}

	status := http.StatusOK
	for _, key := range statusKeys {
		if v, ok := attrs[key]; ok && v.Type() == attribute.INT64 && v.AsInt64() > 0 {
			status = int(v.AsInt64())
			break
		}
	}

	obs, err := observation.New(observation.Observation{
		ServiceName:    p.serviceName,
		Caller:         p.resolve(headers),
		Method:         method,
		PathTemplate:   template,
		RequestHeaders: extract.CustomHeaders(headers),
		QueryParams:    extract.QueryParams(rawQuery),
		StatusCode:     status,
		Timestamp:      s.EndTime().UTC(),
	})
	if err != nil {
		p.logger.Warn("Failed to record span observation", zap.Error(err))
		return
	}
	p.sink.Add(obs)
}

// Shutdown flushes buffered observations
func (p *SpanProcessor) Shutdown(ctx context.Context) error {
	p.sink.Flush(ctx)
	return ctx.Err()
}

// ForceFlush flushes buffered observations
func (p *SpanProcessor) ForceFlush(ctx context.Context) error {
	p.sink.Flush(ctx)
	return ctx.Err()
}

func firstString(attrs map[attribute.Key]attribute.Value, keys []attribute.Key) string {
	for _, key := range keys {
		if v, ok := attrs[key]; ok {
			if s := strings.TrimSpace(v.Emit()); s != "" {
				return s
			}
		}
	}
	return ""
}

// addHeader maps a captured header attribute back to a header. Older
// conventions replaced dashes with underscores in the name.
func addHeader(h http.Header, name string, v attribute.Value) {
	name = strings.ReplaceAll(name, "_", "-")
	switch v.Type() {
	case attribute.STRINGSLICE:
		for _, s := range v.AsStringSlice() {
			h.Add(name, s)
		}
	case attribute.STRING:
		h.Add(name, v.AsString())
	}
}
