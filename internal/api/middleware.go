package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
)

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const projectCtxKey contextKey = iota

// projectFromContext extracts the authenticated project from the request context.
func projectFromContext(ctx context.Context) *auth.ProjectContext {
	v, _ := ctx.Value(projectCtxKey).(*auth.ProjectContext)
	return v
}

// --- Auth middleware ---

// authMiddleware validates the Bearer tsk_ token through the configured
// Authenticator and injects the project into the request context. Caching
// lives in the Authenticator so HTTP and gRPC share one cache.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		proj, err := d.Auth.AuthenticateCredentials(r.Context(), auth.Credentials{
			APIKey:    key,
			ProjectID: strings.TrimSpace(r.Header.Get("X-Project-ID")),
		})
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrAuthUnavailable):
				d.Logger.Error("auth backend unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "Authentication temporarily unavailable")
			case errors.Is(err, auth.ErrMissingProjectID):
				writeError(w, http.StatusUnauthorized, "Missing X-Project-ID header")
			default:
				d.Logger.Warn("auth failed", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "Invalid API key")
			}
			return
		}

		ctx := context.WithValue(r.Context(), projectCtxKey, proj)
		next(w, r.WithContext(ctx))
	}
}

// rateLimit applies the per-project token bucket. It must run after
// authMiddleware.
func (d *Dependencies) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	if d.Limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		proj := projectFromContext(r.Context())
		if proj != nil && !d.Limiter.Allow(proj.ProjectID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes an ErrorResp with the given status code.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResp{Detail: detail})
}

// internalError logs err and answers 500 with "Failed to <what>".
func (d *Dependencies) internalError(w http.ResponseWriter, what string, err error, fields ...zap.Field) {
	d.Logger.Error("failed to "+what, append(fields, zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, "Failed to "+what)
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Project-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
