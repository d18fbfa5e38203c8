// Package httpapi exposes analysis runs over HTTP for the serve command.
//
//	GET  /healthz               liveness
//	GET  /runs/latest           latest Run as JSON
//	GET  /runs/latest/report    latest Run as the plain-text report
//	GET  /runs                  summaries of the runs kept in memory
//	GET  /runs/{id}             one kept Run as JSON
//	POST /runs                  trigger a run and return it
//	GET  /metrics               Prometheus metrics
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/metrics"
	"github.com/rewired-gh/calspread/internal/models"
	"github.com/rewired-gh/calspread/internal/report"
	"github.com/rewired-gh/calspread/internal/storage"
)

// Runner is the part of pipeline.Runner the server needs.
type Runner interface {
	Run(ctx context.Context) (*models.Run, error)
	Latest() *models.Run
}

// AfterRunFunc is called with every run triggered through the API.
type AfterRunFunc func(ctx context.Context, run *models.Run)

// Server serves the analysis API.
type Server struct {
	router   *mux.Router
	runner   Runner
	metrics  *metrics.Registry
	afterRun AfterRunFunc
	timeout  time.Duration

	history *storage.Storage
	initial *models.Run

	mu      sync.Mutex
	running bool
}

// Option configures a Server.
type Option func(*Server)

// WithAfterRun registers a hook for saving or delivering triggered runs.
func WithAfterRun(fn AfterRunFunc) Option {
	return func(s *Server) { s.afterRun = fn }
}

// WithHistory sets the store triggered runs are kept in.
func WithHistory(h *storage.Storage) Option {
	return func(s *Server) { s.history = h }
}

// WithInitialRun serves run as the latest until the runner completes one.
func WithInitialRun(run *models.Run) Option {
	return func(s *Server) { s.initial = run }
}

// WithRunTimeout bounds a triggered run. Zero means no limit beyond the request.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

const defaultHistorySize = 20

// New creates a Server. m may be nil, in which case /metrics is not served.
func New(runner Runner, m *metrics.Registry, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		runner:  runner,
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = storage.New(defaultHistorySize)
	}
	if s.initial != nil {
		if err := s.history.AddRun(s.initial); err != nil {
			logger.Warn("ignoring initial run: %v", err)
		}
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/latest", s.latest).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/latest/report", s.latestReport).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.list).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.trigger).Methods(http.MethodPost)
	s.router.HandleFunc("/runs/{id}", s.get).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) latestRun() *models.Run {
	if run := s.runner.Latest(); run != nil {
		return run
	}
	return s.history.Latest()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	resp := map[string]any{"status": "ok", "running": running}
	if run := s.latestRun(); run != nil {
		resp["latest_run"] = run.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	run := s.latestRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "no run available yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) latestReport(w http.ResponseWriter, r *http.Request) {
	run := s.latestRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "no run available yet")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := report.WriteText(w, run); err != nil {
		logger.Warn("failed to write report: %v", err)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.history.List()})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	run, err := s.history.GetRun(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// the run outlives a disconnected client so it is still kept and delivered
	ctx := context.WithoutCancel(r.Context())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	run, err := s.runner.Run(ctx)
	if err != nil {
		logger.Error("triggered run failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.history.AddRun(run); err != nil {
		logger.Warn("failed to keep run in history: %v", err)
	}
	if s.afterRun != nil {
		s.afterRun(ctx, run)
	}
	writeJSON(w, http.StatusCreated, run)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		l := logger.With("request_id", id)
		l.Debug().Msgf("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
