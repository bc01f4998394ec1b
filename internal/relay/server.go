package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rugwirobaker/ember/internal/secret"
)

// MaxBodySize bounds request and response bodies.
const MaxBodySize = 1 << 20

// HandlerFunc answers one relayed request. A nil result means "no value".
// The server wipes the result once it has been sent.
type HandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

// ServerConfig configures a Server.
type ServerConfig struct {
	Version string

	// RequireSameUID rejects unix socket peers owned by another user.
	RequireSameUID bool

	// Registry receives the server metrics. Nil uses a private registry.
	Registry *prometheus.Registry

	// Stats, when set, is reported by the health endpoint.
	Stats func() map[string]int
}

// Server dispatches relayed requests to registered handlers.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *Metrics
	started time.Time

	mu       sync.RWMutex
	handlers map[Op]HandlerFunc
}

func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(cfg.Registry),
		started:  time.Now(),
		handlers: make(map[Op]HandlerFunc),
	}
}

// Handle registers h for op, replacing any previous handler.
func (s *Server) Handle(op Op, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = h
}

func (s *Server) handler(op Op) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[op]
	return h, ok
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the HTTP handler serving the relay endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RelayPath, s.handleRelay)
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.Handle(MetricsPath, s.metrics.Handler())

	return s.loggingMiddleware(s.metricsMiddleware(s.sameUIDMiddleware(mux)))
}

// handleRelay decodes a request, runs its handler and answers with the
// same request id.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "", "Method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize)).Decode(&req); err != nil {
		s.logger.Warn("Invalid JSON", "error", err)
		s.respondError(w, http.StatusBadRequest, "", "Invalid JSON")
		return
	}
	if req.RequestID == "" {
		req.RequestID = generateRequestID()
	}
	req.Caller = r.Header.Get(HeaderCaller)

	logger := s.logger.With("request_id", req.RequestID, "op", req.Op, "caller", req.Caller)

	h, ok := s.handler(req.Op)
	if !ok {
		logger.Warn("Unknown operation")
		s.metrics.RecordOp(req.Op, string(CodeUnknownOp))
		s.respondJSON(w, http.StatusNotFound, Response{
			RequestID: req.RequestID,
			Error:     ErrUnknownOp.Error(),
			Code:      CodeUnknownOp,
		})
		return
	}

	result, err := h(r.Context(), &req)
	if err != nil {
		status, code := codeFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Handler error", "error", err)
		} else {
			logger.Debug("Request rejected", "error", err)
		}
		s.metrics.RecordOp(req.Op, string(code))
		s.respondJSON(w, status, Response{
			RequestID: req.RequestID,
			Error:     err.Error(),
			Code:      code,
		})
		return
	}

	defer secret.Wipe(result)
	s.metrics.RecordOp(req.Op, "ok")
	logger.Debug("Request handled", "found", result != nil)
	s.respondJSON(w, http.StatusOK, Response{
		RequestID: req.RequestID,
		Result:    result,
	})
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		ServerTimeUTC: time.Now().Unix(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Stats != nil {
		resp.Stats = s.cfg.Stats()
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError sends an error response
func (s *Server) respondError(w http.ResponseWriter, status int, requestID, message string) {
	code := CodeBadRequest
	if status == http.StatusForbidden {
		code = CodeForbidden
	}
	s.respondJSON(w, status, Response{
		RequestID: requestID,
		Error:     message,
		Code:      code,
	})
}
