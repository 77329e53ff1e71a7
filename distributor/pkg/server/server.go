package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *RateLimiter
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
	}
	if cfg.CrankRateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.Clock, cfg.CrankRateLimit, cfg.CrankBurst)
	}
	s.router = s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/vaults/{vault}", func(r chi.Router) {
		r.Get("/policy", s.getPolicy)
		r.Post("/policy", s.postPolicy)
		r.Get("/position", s.getPosition)
		r.Post("/position", s.postPosition)
		r.Get("/progress", s.getProgress)
		r.Get("/treasury", s.getTreasury)
		r.Get("/events", s.getEvents)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/crank", s.postCrank)
			r.Post("/fees", s.postFees)
		})
	})
	return r
}

// instrument records request metrics by route pattern and logs each request at debug.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}
		status := ww.Status()
		duration := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
		s.log.Debug("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) Run(ctx context.Context) error {
	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil && !s.cfg.Ready.Ready() {
		s.log.Debug("readyz: cranker not ready")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("cranker not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to encode response", "error", err)
	}
}
