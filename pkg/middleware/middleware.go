// Package middleware holds the HTTP middleware shared by the control API.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/psantana5/modelsearch/pkg/auth"
	"github.com/psantana5/modelsearch/pkg/logging"
)

type contextKey string

// KeyNameContextKey holds the name of the API key that authenticated a request.
const KeyNameContextKey contextKey = "api_key_name"

// DefaultPublicPaths skip authentication.
var DefaultPublicPaths = []string{"/health"}

// Auth rejects requests without a valid bearer key. A registry without keys
// lets every request through.
func Auth(keys *auth.KeyRegistry, logger *logging.Logger, publicPaths ...string) func(http.Handler) http.Handler {
	if len(publicPaths) == 0 {
		publicPaths = DefaultPublicPaths
	}
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keys.Enabled() || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}
			name, err := keys.Verify(token)
			if err != nil {
				logger.Warn("Rejected API key", map[string]interface{}{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				})
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), KeyNameContextKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyName returns the name of the key that authenticated r.
func KeyName(r *http.Request) string {
	if name, ok := r.Context().Value(KeyNameContextKey).(string); ok {
		return name
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request.
func Logging(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("HTTP request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panic", map[string]interface{}{
						"path":  r.URL.Path,
						"panic": rec,
						"stack": string(debug.Stack()),
					})
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
