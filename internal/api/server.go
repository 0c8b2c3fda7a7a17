// Package api serves the gateway's HTTP surface: the pipeline-protected
// resource routes plus unauthenticated health and metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/risecrm/apigate/internal/config"
	"github.com/risecrm/apigate/internal/envelope"
	"github.com/risecrm/apigate/internal/gateway"
	"github.com/risecrm/apigate/internal/metrics"
)

// Server is the gateway HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     config.ServerConfig
	pipeline   *gateway.Pipeline
	envelope   *envelope.Builder
	metrics    *metrics.Metrics
	resources  []Resource
	logger     *slog.Logger
}

// NewServer creates a new gateway server. Every resource is mounted under
// /api/v1 behind the admission pipeline.
func NewServer(cfg config.ServerConfig, pipeline *gateway.Pipeline, builder *envelope.Builder,
	m *metrics.Metrics, resources []Resource, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		pipeline:  pipeline,
		envelope:  builder,
		metrics:   m,
		resources: resources,
		logger:    logger,
	}

	s.setupRoutes()
	return s
}

// ResourceNames lists the registered endpoint names, in mount order. The
// permission route table is built from this list.
func ResourceNames(resources []Resource) []string {
	names := make([]string, len(resources))
	for i, res := range resources {
		names[i] = res.Name
	}
	return names
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Outside the pipeline: no auth, no audit rows
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.pipeline.Handler)

		for _, res := range s.resources {
			h := &resourceHandler{resource: res, envelope: s.envelope, logger: s.logger}
			r.Route("/"+res.Name, func(r chi.Router) {
				r.Get("/", h.list)
				r.Post("/", h.create)
				r.Get("/{id}", h.get)
				r.Put("/{id}", h.update)
				r.Patch("/{id}", h.update)
				r.Delete("/{id}", h.delete)
			})
		}
	})
}

// Router exposes the configured routes, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// ListenAndServe starts the HTTP server, with TLS when configured.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.config.TLS.Enabled {
		s.logger.Info("starting gateway server with TLS", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	}

	s.logger.Info("starting gateway server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
