// Package server exposes the index over HTTP: a version endpoint, a
// batched metadata query backed by the index daemon, and an authenticated
// single-file download path guarded by the penetration check.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fsindex/fsindexd/internal/config"
	"github.com/fsindex/fsindexd/internal/index"
)

// DefaultWaitTime bounds how long a query handler waits on the daemon's
// reply. It is also the hard ceiling: configured values above it clamp
// down to it.
const DefaultWaitTime = 3 * time.Second

// Server wires the router, the access pool, and the daemon's bus.
type Server struct {
	httpServer *http.Server
	bus        *index.Bus
	pool       *config.AccessPool
	workDir    string
	waitTime   time.Duration
	version    string
	logger     *slog.Logger
}

// Options collects the constructor parameters for New.
type Options struct {
	Addr     string
	WorkDir  string
	WaitTime time.Duration
	Version  string
	Pool     *config.AccessPool
	Bus      *index.Bus
	Logger   *slog.Logger
}

// New builds a Server. WaitTime values above DefaultWaitTime are clamped;
// zero means the default.
func New(opts Options) *Server {
	waitTime := opts.WaitTime
	if waitTime <= 0 || waitTime > DefaultWaitTime {
		waitTime = DefaultWaitTime
	}

	s := &Server{
		bus:      opts.Bus,
		pool:     opts.Pool,
		workDir:  opts.WorkDir,
		waitTime: waitTime,
		version:  opts.Version,
		logger:   opts.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/query", s.requireAuth(s.handleQuery)).Methods(http.MethodGet)
	router.HandleFunc("/file/{path:.*}", s.requireAuth(s.handleFile)).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(s.handleFallback)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleFallback)

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: router,
	}

	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener
// failure. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
