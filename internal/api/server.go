// Package api is the ingestion system's HTTP surface: document upload and
// reprocessing, batch hydration, admin queue controls, the WebSocket
// upgrade, and the minimal auth endpoints a bearer-token/Casbin RBAC setup
// needs.
//
// Grounded on the pack's chi-based router (internal/api/router.go in the
// NMSlite reference repo): a constructor that builds every collaborator,
// mounts global middleware, and nests route groups with their own
// middleware chains, rather than the flat http.ServeMux the rates-domain
// surface used.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaydocs/ingestor/internal/auth"
	"github.com/relaydocs/ingestor/internal/blobstore"
	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/hydration"
	"github.com/relaydocs/ingestor/internal/queue"
	"github.com/relaydocs/ingestor/internal/runner"
	"github.com/relaydocs/ingestor/internal/storage"
	"github.com/relaydocs/ingestor/internal/wshub"
)

// Deps bundles every collaborator the router's handlers close over. Auth
// is nilable: a deployment with no storage.Storage backing it runs with
// RBAC disabled, matching the "detect uninitialized state, don't force
// setup" convention in the auth package itself.
type Deps struct {
	Queue          *queue.Manager
	Files          filemeta.Store
	Blobs          blobstore.Store
	Storage        storage.Storage
	Hydration      *hydration.Service
	Hub            *wshub.Hub
	Runner         *runner.Runner
	Auth           *auth.Service
	AdminSecret    string
	AllowedOrigins []string
	MaxUploadBytes int64
}

func (d Deps) maxUploadBytes() int64 {
	if d.MaxUploadBytes <= 0 {
		return 64 << 20 // 64MiB default cap on one multipart upload
	}
	return d.MaxUploadBytes
}

// NewRouter constructs the full HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recovery)
	r.Use(Logger)
	if len(d.AllowedOrigins) > 0 {
		r.Use(CORS(d.AllowedOrigins))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(d.Storage))
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		d.Hub.ServeWS(w, r)
	})

	h := &handlers{d: d}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", h.authStatus)
			r.Post("/setup", h.authSetup)
			r.Post("/login", h.authLogin)
		})

		r.Group(func(r chi.Router) {
			if d.Auth != nil {
				r.Use(d.Auth.Middleware)
			}

			r.Route("/documents", func(r chi.Router) {
				r.With(h.requirePermission("documents", "write")).
					Post("/process", h.processBatch)
				r.With(h.requirePermission("documents", "write")).
					Post("/{fileId}/reprocess", h.reprocessFile)
				r.Get("/batches/{batchId}", h.getBatch)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminAuth)
			r.Get("/queue-status", h.queueStatus)
			r.Get("/queue-metrics", h.queueMetrics)
			r.Post("/clear-completed-metrics", h.clearCompletedMetrics)
			r.Post("/shutdown-drain", h.shutdownDrain)
		})
	})

	return r
}

func readyHandler(st storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := st.ListUsers(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
