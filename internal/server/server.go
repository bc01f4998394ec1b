// Package server assembles the authoritative ember process: the in-memory
// backend, the audit log and the relay endpoint in front of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rugwirobaker/ember/internal/audit"
	"github.com/rugwirobaker/ember/internal/audit/sqlite"
	"github.com/rugwirobaker/ember/internal/config"
	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/rugwirobaker/ember/internal/secret/memory"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend *memory.Backend
	audit   audit.Recorder
	relay   *relay.Server
}

func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	backend := memory.New(memory.Config{
		TTL:         cfg.Store.TTL,
		IdleTimeout: cfg.Store.IdleTimeout,
		SlideOnRead: cfg.Store.SlideOnRead,
		SessionTTL:  cfg.Store.SessionTTL,
	}, logger)

	var rec audit.Recorder = audit.Nop{}
	if cfg.Audit.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o700); err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		r, err := sqlite.New(cfg.Audit.Path, logger)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		rec = r
	}

	stats := func() map[string]int {
		st := backend.Stats()
		return map[string]int{"secrets": st.Secrets, "session": st.Session}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ember_secrets",
			Help: "Live entries in the expiring secret table",
		}, func() float64 { return float64(backend.Stats().Secrets) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ember_session_entries",
			Help: "Live entries in the session table",
		}, func() float64 { return float64(backend.Stats().Session) }),
	)

	rs := relay.NewServer(relay.ServerConfig{
		Version:        version,
		RequireSameUID: cfg.Relay.RequireSameUID,
		Registry:       reg,
		Stats:          stats,
	}, logger)
	relay.RegisterStore(rs, backend, rec, logger)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		audit:   rec,
		relay:   rs,
	}, nil
}

// Backend returns the authoritative backend, for facades running inside
// this process.
func (s *Server) Backend() *memory.Backend {
	return s.backend
}

// Handler returns the relay HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.relay.Handler()
}

// Run serves on ls until ctx ends. Every secret is wiped on the way out.
func (s *Server) Run(ctx context.Context, ls net.Listener) error {
	defer s.close()
	return Serve(ctx, ls, s.relay, s.logger)
}

func (s *Server) close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Error("Failed to close backend", "error", err)
	}
	if err := s.audit.Close(); err != nil {
		s.logger.Error("Failed to close audit log", "error", err)
	}
}

// Listen opens the listener for addr. Unix sockets get their parent
// directory created and mode applied.
func Listen(addr string, mode os.FileMode) (net.Listener, error) {
	if strings.HasPrefix(addr, "vsock:") {
		return relay.Listen(addr)
	}

	path := strings.TrimPrefix(addr, "unix:")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	ls, err := relay.Listen(path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, mode); err != nil {
		ls.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return ls, nil
}

// Serve runs rs on ls until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, ls net.Listener, rs *relay.Server, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:      rs.Handler(),
		ConnContext:  rs.ConnContext,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Ember listening", "addr", ls.Addr().String())
		errCh <- httpServer.Serve(ls)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}

	logger.Info("Ember stopped")
	return nil
}
