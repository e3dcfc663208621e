// Package api serves the admin REST API.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"licensehub/internal/audit"
	"licensehub/internal/auth"
	"licensehub/internal/backup"
	"licensehub/internal/license"
	"licensehub/internal/logging"
	"licensehub/internal/metrics"
	"licensehub/internal/middleware"
	"licensehub/internal/ratelimit"
	"licensehub/internal/scheduler"
	"licensehub/internal/validation"
)

// Config wires a Server. Backups, Licenses and Tokens are required.
type Config struct {
	Backups   *backup.Service
	Licenses  *license.Manager
	Tokens    middleware.TokenValidator
	Audit     *audit.Log
	Scheduler *scheduler.Scheduler
	// Lock serializes backup mutations with other callers such as the
	// scheduler. A private lock is used when nil.
	Lock    *backup.Lock
	DB      *sql.DB
	Metrics *metrics.Metrics
	Logger  logging.Logger
	// MaxUploadBytes caps upload bodies. Zero means 256 MiB.
	MaxUploadBytes int64
	// AuthFailures throttles clients presenting bad tokens. Optional.
	AuthFailures *ratelimit.SlidingWindow
}

// Server is the admin HTTP API.
type Server struct {
	router    *mux.Router
	backups   *backup.Service
	licenses  *license.Manager
	audit     *audit.Log
	scheduler *scheduler.Scheduler
	lock      *backup.Lock
	db        *sql.DB
	metrics   *metrics.Metrics
	logger    logging.Logger
	maxUpload int64
	started   time.Time
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Backups == nil || cfg.Licenses == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("backups, licenses and tokens are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Lock == nil {
		cfg.Lock = &backup.Lock{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 256 << 20
	}

	s := &Server{
		router:    mux.NewRouter(),
		backups:   cfg.Backups,
		licenses:  cfg.Licenses,
		audit:     cfg.Audit,
		scheduler: cfg.Scheduler,
		lock:      cfg.Lock,
		db:        cfg.DB,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
		started:   time.Now(),
	}
	s.routes(middleware.NewAuthMiddleware(cfg.Tokens, middleware.AuthMiddlewareConfig{
		Logger:         cfg.Logger,
		FailureLimiter: cfg.AuthFailures,
	}))
	return s, nil
}

func (s *Server) routes(authMW *middleware.AuthMiddleware) {
	r := s.router
	r.Use(s.instrument)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	// Scrapers may use viewer tokens.
	r.Handle("/metrics", authMW.Wrap(s.metricsHandler())).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMW.Wrap, authMW.RequireRole(auth.RoleAdmin))

	api.HandleFunc("/backups", s.handleListBackups).Methods(http.MethodGet)
	api.HandleFunc("/backups", s.handleCreateBackup).Methods(http.MethodPost)
	api.HandleFunc("/backups/upload", s.handleUploadBackup).Methods(http.MethodPost)
	api.HandleFunc("/backups/{filename}", s.handleDeleteBackup).Methods(http.MethodDelete)
	api.HandleFunc("/backups/{filename}/download", s.handleDownloadBackup).Methods(http.MethodGet)
	api.HandleFunc("/backups/{filename}/restore", s.handleRestoreBackup).Methods(http.MethodPost)

	api.HandleFunc("/licenses", s.handleListLicenses).Methods(http.MethodGet)
	api.HandleFunc("/licenses", s.handleGenerateLicense).Methods(http.MethodPost)
	api.HandleFunc("/licenses/activate", s.handleActivateLicense).Methods(http.MethodPost)
	api.HandleFunc("/licenses/{id}", s.handleGetLicense).Methods(http.MethodGet)
	api.HandleFunc("/licenses/{id}/renew", s.handleRenewLicense).Methods(http.MethodPost)
	api.HandleFunc("/licenses/{id}/{action:pause|resume|revoke}", s.handleLicenseAction).Methods(http.MethodPost)

	api.HandleFunc("/audit-logs", s.handleAuditLogs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{name}/run", s.handleRunJob).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RunOptions are the http.Server timeouts.
type RunOptions struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, opts RunOptions) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("admin API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	s.logger.Infof("shutting down admin API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.AddHTTPRequest(r.Method, route, strconv.Itoa(rec.status))
		s.logger.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) metricsHandler() http.Handler {
	if s.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusServiceUnavailable, "metrics disabled")
		})
	}
	return s.metrics.Handler()
}

// actor identifies the caller for audit entries.
func actor(r *http.Request) backup.Actor {
	a := backup.Actor{Address: r.RemoteAddr}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		a.Address = host
	}
	if info := middleware.GetAuthInfo(r.Context()); info != nil {
		a.ID = info.Actor()
	}
	return a
}

// decodeJSON reads a JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return validation.ValidateStruct(v)
}
