package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaydocs/ingestor/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "requestId"

// RequestID stamps every request with a UUID, grounded on the pack's
// convention of a request-scoped correlation id threaded through logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery turns a panicking handler into a 500 instead of taking down the
// server, logging the stack for diagnosis.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("api: panic recovered", "error", rec, "stack", string(debug.Stack()),
					"requestId", r.Context().Value(requestIDKey))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Logger wraps the ResponseWriter to capture the status code, emits a
// structured access log line, and feeds the request-count/duration metrics.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		route := routePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, statusLabel(rec.status)).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(route, r.Method).Observe(dur.Seconds())

		slog.Info("api: request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", dur, "requestId", r.Context().Value(requestIDKey))
	})
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// CORS mirrors the pack's exact-match-or-"*" allowlist handling and
// short-circuits preflight OPTIONS requests.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Admin-Secret")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// adminAuth gates /api/admin routes behind a shared secret compared in
// constant time, rather than the per-user RBAC the document routes use —
// admin endpoints act on the whole queue, not a caller's own resources.
func (h *handlers) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.d.AdminSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.d.AdminSecret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePermission delegates to auth.Service.RequirePermission when RBAC
// is enabled, and runs open otherwise (no users provisioned yet, or no
// storage backend at all).
func (h *handlers) requirePermission(obj, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if h.d.Auth == nil {
			return next
		}
		guarded := h.d.Auth.RequirePermission(obj, act, next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasUsers, err := h.d.Auth.HasAnyUsers(r.Context()); err == nil && !hasUsers {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
