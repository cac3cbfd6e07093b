// Package auth implements the shared-secret service-key check and
// request-ID propagation for every protected endpoint.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderServiceKey carries the shared secret issued to ERP integrators.
const HeaderServiceKey = "X-Service-Key"

type Middleware func(next http.Handler) http.Handler

type contextKey string

const requestIDKey contextKey = "request_id"

// NewMiddleware builds the service-key guard. An empty configured key
// disables the check entirely (open access); callers are expected to
// flag that at startup.
func NewMiddleware(serviceKey string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			if serviceKey != "" {
				supplied := r.Header.Get(HeaderServiceKey)
				if subtle.ConstantTimeCompare([]byte(supplied), []byte(serviceKey)) != 1 {
					logger.Warn("rejected request with invalid service key",
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid service key"})
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID is a helper for testing.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
