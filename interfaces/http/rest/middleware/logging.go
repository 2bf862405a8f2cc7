package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// subjectSlotKey carries a *string that Authenticate fills in, so the
// request log can name the caller even though auth runs further down the
// chain on a derived context
type subjectSlotKey struct{}

// Logger creates a logging middleware. Each line names the matched route and
// the documented service; authenticated requests also carry the token
// subject. Client errors log at warn and server errors at error.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var subject string
			r = r.WithContext(context.WithValue(r.Context(), subjectSlotKey{}, &subject))

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
				zap.String("userAgent", r.UserAgent()),
			}

			// The route context is filled in while routing, so read it after serving
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					fields = append(fields, zap.String("route", pattern))
				}
				if service := rctx.URLParam("service"); service != "" {
					fields = append(fields, zap.String("service", service))
				}
			}
			if subject != "" {
				fields = append(fields, zap.String("subject", subject))
			}

			switch status := ww.Status(); {
			case status >= 500:
				logger.Error("HTTP Request", fields...)
			case status >= 400:
				logger.Warn("HTTP Request", fields...)
			default:
				logger.Info("HTTP Request", fields...)
			}
		})
	}
}

// recordSubject hands the authenticated subject back to the request logger
func recordSubject(ctx context.Context, subject string) {
	if slot, ok := ctx.Value(subjectSlotKey{}).(*string); ok {
		*slot = subject
	}
}
