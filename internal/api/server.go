// Package api exposes the control surface over HTTP: scan lifecycle,
// results, settings, health, Prometheus metrics and a websocket live feed.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/metrics"
)

// Server hosts the control API.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	handlers *Handlers
	hub      *Hub

	httpServer *http.Server
	router     *mux.Router
}

// NewServer wires the router, middleware and websocket hub.
func NewServer(cfg *config.Config, h *Handlers, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("api")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
		hub:      NewHub(logger),
	}
	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.API.RequestTimeout,
		WriteTimeout: cfg.API.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Hub returns the live-feed hub so the engine can publish into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router exposes the handler tree; tests drive it through httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(
		metrics.GetGlobalMetrics().GetRegistry(),
		promhttp.HandlerOpts{},
	)).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/scan/start", s.handlers.StartScan).Methods("POST")
	v1.HandleFunc("/scan/stop", s.handlers.StopScan).Methods("POST")
	v1.HandleFunc("/scan/status", s.handlers.ScanStatus).Methods("GET")
	v1.HandleFunc("/results", s.handlers.Results).Methods("GET")
	v1.HandleFunc("/export", s.handlers.Export).Methods("POST")
	v1.HandleFunc("/settings", s.handlers.UpdateSettings).Methods("PUT")
	v1.HandleFunc("/settings", s.handlers.GetSettings).Methods("GET")
	v1.HandleFunc("/live", s.hub.ServeWS).Methods("GET")

	return r
}

// Start runs the server until the context ends.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	var handler http.Handler = s.router
	if s.cfg.API.EnableCORS {
		handler = handlers.CORS(
			handlers.AllowedOrigins(s.cfg.API.CORSOrigins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(s.router)
	}
	s.httpServer.Handler = handlers.RecoveryHandler()(handler)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pm := metrics.GetGlobalMetrics()
		pm.IncrementHTTPRequests(r.Method, r.URL.Path, strconv.Itoa(sw.status))
		pm.RecordHTTPDuration(r.Method, r.URL.Path, time.Since(start))
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

// writeJSON sends a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
