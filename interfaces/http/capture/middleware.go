// Package capture records an observation for every request served by a
// net/http handler chain.
package capture

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	appcapture "consumerdocs/application/capture"
	"consumerdocs/domain/observation"
	"consumerdocs/pkg/extract"
)

// DefaultMaxBodyBytes caps how much of a request body is inspected
const DefaultMaxBodyBytes = 64 << 10

// RouteResolver returns the matched route template of a served request, or
// "" when the router did not match one
type RouteResolver func(r *http.Request) string

// ChiRoute reads the pattern chi matched. It must be called after the
// router has served the request.
func ChiRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	pattern := rctx.RoutePattern()
	if pattern == "/*" {
		return ""
	}
	return strings.TrimSuffix(pattern, "/*")
}

// MuxRoute reads the template gorilla/mux matched. The middleware has to be
// installed with Router.Use so it sees the matched route.
func MuxRoute(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// Config holds middleware configuration
type Config struct {
	ServiceName    string
	Sink           appcapture.Sink
	MaxBodyDepth   int
	MaxBodyBytes   int64
	CallerResolver extract.CallerResolver
	RouteResolver  RouteResolver
	// SkipPaths are exact paths never recorded (health checks, metrics)
	SkipPaths []string
	Logger    *zap.Logger
}

// Middleware returns a handler wrapper that records the shape of every
// request after the wrapped handler returns. Recording never changes the
// response; failures while building the observation are logged and dropped.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.MaxBodyDepth <= 0 {
		cfg.MaxBodyDepth = extract.DefaultMaxDepth
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.CallerResolver == nil {
		cfg.CallerResolver = extract.ResolveCaller
	}
	if cfg.RouteResolver == nil {
		cfg.RouteResolver = ChiRoute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok || cfg.Sink == nil {
				next.ServeHTTP(w, r)
				return
			}

			body := peekBody(r, cfg.MaxBodyBytes)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			record(cfg, r, body, ww.Status())
		})
	}
}

// peekBody reads up to limit bytes and puts them back in front of the rest
// of the stream so the handler still sees the whole body
func peekBody(r *http.Request, limit int64) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = &replayBody{
		Reader: io.MultiReader(bytes.NewReader(head), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		return nil
	}
	return head
}

type replayBody struct {
	io.Reader
	io.Closer
}

func record(cfg Config, r *http.Request, body []byte, status int) {
	defer func() {
		if rec := recover(); rec != nil {
			cfg.Logger.Warn("Failed to record observation", zap.Any("panic", rec))
		}
	}()

	if status == 0 {
		status = http.StatusOK
	}

	template := cfg.RouteResolver(r)
	if template == "" {
		template = extract.NormalizePath(r.URL.Path)
	}

	obs, err := observation.New(observation.Observation{
		ServiceName:    cfg.ServiceName,
		Caller:         cfg.CallerResolver(r.Header),
		Method:         r.Method,
		PathTemplate:   template,
		RequestFields:  extract.FieldsFromBody(body, r.Header.Get("Content-Type"), cfg.MaxBodyDepth),
		RequestHeaders: extract.CustomHeaders(r.Header),
		QueryParams:    extract.QueryParams(r.URL.RawQuery),
		StatusCode:     status,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		cfg.Logger.Warn("Failed to record observation", zap.Error(err))
		return
	}
	cfg.Sink.Add(obs)
}
