package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/jobs"
	"contentpilot/internal/storage"
	logx "contentpilot/pkg/logx"
)

// JobService is the orchestrator surface the handlers call.
// *jobs.Service implements it.
type JobService interface {
	List(ctx context.Context) ([]storage.Job, error)
	Get(ctx context.Context, id int64) (storage.Job, error)
	Create(ctx context.Context, req jobs.CreateRequest) (storage.Job, error)
	Update(ctx context.Context, id int64, upd jobs.JobUpdate) (storage.Job, error)
	Delete(ctx context.Context, id int64) error
	Trigger(ctx context.Context, id int64) (jobs.Outcome, error)
	EmergencyStop() int
	Status() jobs.StatusReport
	Init(ctx context.Context) (int, error)
	Runs(ctx context.Context, id int64, limit int) ([]storage.RunRecord, error)
}

type Config struct {
	Addr            string
	BasePath        string
	AdminToken      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Pprof           bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	c.BasePath = "/" + strings.Trim(strings.TrimSpace(c.BasePath), "/")
	if c.BasePath == "/" {
		c.BasePath = ""
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Server owns the HTTP listener. Routes are fixed at construction; the
// admin token can be rotated at runtime.
type Server struct {
	cfg    Config
	log    logx.Logger
	jobs   JobService
	bus    eventbus.Bus
	health func() any

	token atomic.Value // string

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

// New builds a server. health, when set, supplies the /healthz body.
func New(cfg Config, svc JobService, bus eventbus.Bus, health func() any, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("comp", "http")),
		jobs:   svc,
		bus:    bus,
		health: health,
	}
	s.token.Store(strings.TrimSpace(cfg.AdminToken))
	return s
}

func (s *Server) SetAdminToken(tok string) { s.token.Store(strings.TrimSpace(tok)) }

func (s *Server) adminToken() string {
	v, _ := s.token.Load().(string)
	return v
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	base := s.cfg.BasePath
	admin := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+base+path, s.requireAdmin(h))
	}

	admin("GET /jobs", s.handleList)
	admin("POST /jobs", s.handleCreate)
	admin("GET /jobs/status", s.handleStatus)
	admin("GET /jobs/events", s.handleEvents)
	admin("POST /jobs/emergency-stop", s.handleEmergencyStop)
	admin("POST /jobs/init", s.handleInit)
	admin("GET /jobs/{id}", s.handleGet)
	admin("PUT /jobs/{id}", s.handleUpdate)
	admin("DELETE /jobs/{id}", s.handleDelete)
	admin("POST /jobs/{id}/trigger", s.handleTrigger)
	admin("GET /jobs/{id}/runs", s.handleRuns)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.cfg.Pprof {
		mux.Handle("/debug/pprof/", s.requireAdmin(http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", s.requireAdmin(http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", s.requireAdmin(http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", s.requireAdmin(http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", s.requireAdmin(http.HandlerFunc(pprof.Trace)))
	}
	return s.logRequests(mux)
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()
	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("http listening", logx.String("addr", addr), logx.String("base", s.cfg.BasePath+"/jobs"))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http stopped")
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/healthz" {
			return
		}
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("dur", time.Since(start)),
		)
	})
}
