package relay

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// loggingMiddleware logs every request after it completes
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"caller", r.Header.Get(HeaderCaller),
			"duration", time.Since(start),
		)
	})
}

// metricsMiddleware records request counts and latencies
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(r.Method, r.URL.Path, status, time.Since(start))
	})
}

type peerKey struct{}

// peer identifies the process on the other end of a connection.
type peer struct {
	uid   uint32
	known bool
}

// ConnContext attaches the peer credentials of c to ctx. It is meant for
// http.Server.ConnContext.
func (s *Server) ConnContext(ctx context.Context, c net.Conn) context.Context {
	uid, ok := peerUID(c)
	return context.WithValue(ctx, peerKey{}, peer{uid: uid, known: ok})
}

// sameUIDMiddleware rejects unix socket peers running as another user.
// Connections whose credentials cannot be read (vsock, non-linux) pass.
func (s *Server) sameUIDMiddleware(next http.Handler) http.Handler {
	if !s.cfg.RequireSameUID {
		return next
	}
	uid := uint32(os.Getuid())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := r.Context().Value(peerKey{}).(peer)
		if p.known && p.uid != uid {
			s.logger.Warn("Rejected peer", "peer_uid", p.uid, "uid", uid)
			s.respondError(w, http.StatusForbidden, "", "peer uid mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}
