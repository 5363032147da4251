// Package server is the admin surface of the worker: a small HTTP API over the
// dispatcher and the read model, plus a gRPC health endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/repository"
)

type Dispatcher interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, reason constants.JobReason) (async.Job, error)
	Reprocess(ctx context.Context, documentID uuid.UUID) (async.Job, error)
}

type Exporter interface {
	ExportDocumentXLSX(ctx context.Context, documentID uuid.UUID) ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, documentID uuid.UUID) error
}

// Deps wires the handlers. Publisher and Gatherer are optional.
type Deps struct {
	Dispatcher     Dispatcher
	Documents      repository.DocumentRepository
	Pages          repository.PageRepository
	Exporter       Exporter
	Publisher      Publisher
	Health         func(ctx context.Context) error
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates the admin router with all routes configured.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(d.RequestTimeout))

	r.Get("/healthz", h.healthz)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/documents/{id}", func(r chi.Router) {
		r.Get("/", h.getDocument)
		r.Post("/jobs", h.enqueue)
		r.Post("/reprocess", h.reprocess)
		r.Get("/pages", h.listPages)
		r.Put("/pages/{page}/text", h.correctText)
		r.Get("/export.xlsx", h.export)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
