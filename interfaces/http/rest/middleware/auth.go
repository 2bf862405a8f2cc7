package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"consumerdocs/pkg/auth"
	"consumerdocs/pkg/common"
	appErrors "consumerdocs/pkg/errors"
)

// Authenticate validates the bearer token of every request and stores the
// token subject in the request context
func Authenticate(validator *auth.JWTValidator, errorHandler *appErrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				errorHandler.Handle(w, r, appErrors.NewUnauthorizedError("missing authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Warn("Invalid token",
					zap.Error(err),
					zap.String("ip", clientIP(r)),
					zap.String("path", r.URL.Path),
				)

				message := "invalid token"
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					message = "token has expired"
				case errors.Is(err, auth.ErrInvalidSignature):
					message = "invalid token signature"
				}
				errorHandler.Handle(w, r, appErrors.NewUnauthorizedError(message))
				return
			}

			recordSubject(r.Context(), claims.Subject)
			ctx := common.WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit rejects clients exceeding the per-IP request budget
func RateLimit(limiter *auth.IPRateLimiter, errorHandler *appErrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				errorHandler.Handle(w, r, err)
				return
			}
			if !allowed {
				errorHandler.HandleStatus(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientIP reads RemoteAddr, which chi's RealIP middleware has already
// rewritten from the forwarding headers
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
