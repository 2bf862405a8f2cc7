// Package lambda records observations for AWS Lambda handlers sitting
// behind API Gateway (HTTP and REST APIs) or an Application Load Balancer.
//
// A Lambda execution environment may be frozen as soon as the handler
// returns, so every wrapped invocation flushes the buffer synchronously
// before handing the response back.
package lambda

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	appcapture "consumerdocs/application/capture"
	"consumerdocs/domain/observation"
	"consumerdocs/pkg/extract"
)

// proxyResource is the catch-all resource of REST API proxy integrations
const proxyResource = "/{proxy+}"

// TrackerConfig holds tracker configuration
type TrackerConfig struct {
	ServiceName    string
	Sink           appcapture.Sink
	MaxBodyDepth   int
	CallerResolver extract.CallerResolver
	Logger         *zap.Logger
}

// Tracker wraps Lambda handlers to record their traffic
type Tracker struct {
	config TrackerConfig
}

// HTTPHandler is an API Gateway HTTP API (payload v2) handler
type HTTPHandler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// ProxyHandler is an API Gateway REST API (payload v1) handler
type ProxyHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// ALBHandler is an Application Load Balancer target handler
type ALBHandler func(ctx context.Context, req events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error)

// NewTracker creates a tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxBodyDepth <= 0 {
		config.MaxBodyDepth = extract.DefaultMaxDepth
	}
	if config.CallerResolver == nil {
		config.CallerResolver = extract.ResolveCaller
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Tracker{config: config}
}

// request is the event-independent view of one invocation
type request struct {
	method   string
	template string
	headers  http.Header
	query    observation.StringSet
	body     string
	base64   bool
}

// WrapHTTP wraps a payload v2 handler. The route key supplies the template;
// the $default route falls back to the concrete path with its path
// parameters substituted back in.
func (t *Tracker) WrapHTTP(next HTTPHandler) HTTPHandler {
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		defer t.flush(ctx)

		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}

		method := req.RequestContext.HTTP.Method
		path := req.RequestContext.HTTP.Path
		if path == "" {
			path = req.RawPath
		}

		template := ""
		if routeMethod, route, ok := strings.Cut(req.RouteKey, " "); ok {
			template = route
			if method == "" {
				method = routeMethod
			}
		}
		if template == "" {
			template = fallbackTemplate(path, req.PathParameters)
		}

		t.record(request{
			method:   method,
			template: template,
			headers:  toHeader(req.Headers, nil),
			query:    queryNames(req.QueryStringParameters, nil, req.RawQueryString),
			body:     req.Body,
			base64:   req.IsBase64Encoded,
		}, resp.StatusCode)
		return resp, nil
	}
}

// WrapProxy wraps a payload v1 handler. The resource is the template unless
// it is the greedy proxy resource.
func (t *Tracker) WrapProxy(next ProxyHandler) ProxyHandler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		defer t.flush(ctx)

		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}

		template := req.Resource
		if template == "" || template == proxyResource {
			template = fallbackTemplate(req.Path, req.PathParameters)
		}

		t.record(request{
			method:   req.HTTPMethod,
			template: template,
			headers:  toHeader(req.Headers, req.MultiValueHeaders),
			query:    queryNames(req.QueryStringParameters, req.MultiValueQueryStringParameters, ""),
			body:     req.Body,
			base64:   req.IsBase64Encoded,
		}, resp.StatusCode)
		return resp, nil
	}
}

// WrapALB wraps a load balancer target handler. Load balancers match no
// route, so the template always comes from path normalisation.
func (t *Tracker) WrapALB(next ALBHandler) ALBHandler {
	return func(ctx context.Context, req events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
		defer t.flush(ctx)

		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}

		t.record(request{
			method:   req.HTTPMethod,
			template: extract.NormalizePath(req.Path),
			headers:  toHeader(req.Headers, req.MultiValueHeaders),
			query:    queryNames(req.QueryStringParameters, req.MultiValueQueryStringParameters, ""),
			body:     req.Body,
			base64:   req.IsBase64Encoded,
		}, resp.StatusCode)
		return resp, nil
	}
}

func (t *Tracker) record(req request, status int) {
	defer func() {
		if rec := recover(); rec != nil {
			t.config.Logger.Warn("Failed to record observation", zap.Any("panic", rec))
		}
	}()

	if t.config.Sink == nil {
		return
	}
	if status == 0 {
		status = http.StatusOK
	}

	obs, err := observation.New(observation.Observation{
		ServiceName:    t.config.ServiceName,
		Caller:         t.config.CallerResolver(req.headers),
		Method:         req.method,
		PathTemplate:   req.template,
		RequestFields:  extract.FieldsFromBody(decodeBody(req.body, req.base64), req.headers.Get("Content-Type"), t.config.MaxBodyDepth),
		RequestHeaders: extract.CustomHeaders(req.headers),
		QueryParams:    req.query,
		StatusCode:     status,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		t.config.Logger.Warn("Failed to record observation", zap.Error(err))
		return
	}
	t.config.Sink.Add(obs)
}

func (t *Tracker) flush(ctx context.Context) {
	if t.config.Sink != nil {
		t.config.Sink.Flush(ctx)
	}
}

func fallbackTemplate(path string, params map[string]string) string {
	if len(params) > 0 {
		return extract.RouteTemplate(path, params)
	}
	return extract.NormalizePath(path)
}

// toHeader merges single and multi value header maps into a canonical
// http.Header
func toHeader(single map[string]string, multi map[string][]string) http.Header {
	h := make(http.Header, len(single)+len(multi))
	for name, values := range multi {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	for name, value := range single {
		if h.Get(name) == "" {
			h.Set(name, value)
		}
	}
	return h
}

func queryNames(single map[string]string, multi map[string][]string, raw string) observation.StringSet {
	if len(single) == 0 && len(multi) == 0 {
		return extract.QueryParams(raw)
	}
	names := observation.NewStringSet()
	for name := range single {
		names.Add(name)
	}
	for name := range multi {
		names.Add(name)
	}
	return names
}

func decodeBody(body string, isBase64 bool) []byte {
	if body == "" {
		return nil
	}
	if !isBase64 {
		return []byte(body)
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil
	}
	return decoded
}
