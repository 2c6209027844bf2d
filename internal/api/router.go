package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/upload"
)

const serviceName = "upload_api"

type RouterOptions struct {
	// MaxBodyBytes caps each request body; 0 disables the limit.
	MaxBodyBytes  int64
	AuditLogLevel string
}

// NewRouter creates and configures the Chi router serving the upload routes
func NewRouter(svc *upload.Service, opts RouterOptions) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()

	// Middleware for all routes
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logging.Fields{logging.ServiceNameFieldKey: serviceName}, opts.AuditLogLevel))
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodyBytes))
	}

	r.Route("/files/upload", func(r chi.Router) {
		r.Post("/stream", h.handleStream)
		r.Post("/chunk", h.handleChunk)
		r.Post("/block", h.handleBlock)
		r.Post("/block/commit", h.handleCommit)
	})

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
