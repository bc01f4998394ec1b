// Package relay lets isolated processes call the store operations of the
// authoritative process. Requests travel as JSON over HTTP on a unix socket
// or vsock connection and are answered with a response carrying the same
// request id.
package relay

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rugwirobaker/ember/internal/secret"
)

// Op names a relayed operation.
type Op string

const (
	OpStoreGet     Op = "store.get"
	OpStoreSet     Op = "store.set"
	OpStoreClear   Op = "store.clear"
	OpSessionGet   Op = "session.get"
	OpSessionSet   Op = "session.set"
	OpSessionClear Op = "session.clear"
)

// Ops lists every operation the store understands.
var Ops = []Op{
	OpStoreGet,
	OpStoreSet,
	OpStoreClear,
	OpSessionGet,
	OpSessionSet,
	OpSessionClear,
}

// ReadOnly reports whether op leaves the store unchanged.
func (op Op) ReadOnly() bool {
	return op == OpStoreGet || op == OpSessionGet
}

const (
	// RelayPath is the single endpoint all operations are posted to.
	RelayPath = "/v1/relay"
	// HealthPath reports liveness and entry counts.
	HealthPath = "/v1/sys/health"
	// MetricsPath exposes prometheus metrics.
	MetricsPath = "/v1/sys/metrics"

	// HeaderCaller carries the id of the calling client.
	HeaderCaller = "X-Ember-Caller"
)

var (
	// ErrUnknownOp is returned for an operation no handler is registered for.
	ErrUnknownOp = errors.New("unknown operation")

	// ErrForbidden is returned when the receiving side refuses an operation.
	ErrForbidden = errors.New("operation not permitted")
)

// Request is one relayed call.
type Request struct {
	RequestID string `json:"request_id"`
	Op        Op     `json:"op"`
	Account   string `json:"acct_email,omitempty"`
	Key       string `json:"key,omitempty"`

	// Value is nil for reads and for a set that removes the entry. Values
	// are opaque bytes, base64 in JSON; an empty value is not nil.
	Value []byte `json:"value"`

	// Expiration is an absolute expiry in unix milliseconds. Nil applies the
	// default TTL of the receiving store.
	Expiration *int64 `json:"expiration,omitempty"`

	// Caller is filled in by the server from HeaderCaller.
	Caller string `json:"-"`
}

// Scope returns the validated scope addressed by the request.
func (r *Request) Scope() (secret.Scope, error) {
	return secret.NewScope(r.Account, r.Key)
}

// ExpiresAt converts Expiration to a time; zero when unset.
func (r *Request) ExpiresAt() time.Time {
	if r.Expiration == nil {
		return time.Time{}
	}
	return time.UnixMilli(*r.Expiration)
}

// Response answers a Request. A nil Result means "no value".
type Response struct {
	RequestID string `json:"request_id"`
	Result    []byte `json:"result"`
	Error     string `json:"error,omitempty"`
	Code      Code   `json:"code,omitempty"`
}

// Code classifies a failed request so clients can map it back to an error.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidScope Code = "invalid_scope"
	CodeUnknownOp    Code = "unknown_op"
	CodeForbidden    Code = "forbidden"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// codeFor maps a handler error to its status and code.
func codeFor(err error) (int, Code) {
	switch {
	case errors.Is(err, secret.ErrInvalidScope):
		return http.StatusBadRequest, CodeInvalidScope
	case errors.Is(err, ErrUnknownOp):
		return http.StatusNotFound, CodeUnknownOp
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, secret.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Err converts a failed response back into an error wrapping the matching
// sentinel. It returns nil for a successful response.
func (r *Response) Err() error {
	if r.Error == "" && r.Code == "" {
		return nil
	}
	var base error
	switch r.Code {
	case CodeInvalidScope:
		base = secret.ErrInvalidScope
	case CodeUnknownOp:
		base = ErrUnknownOp
	case CodeForbidden:
		base = ErrForbidden
	case CodeUnavailable:
		base = secret.ErrUnavailable
	default:
		return fmt.Errorf("relay: %s", r.Error)
	}
	return &remoteError{base: base, msg: r.Error}
}

// remoteError carries the message reported by the other side while still
// matching the local sentinel.
type remoteError struct {
	base error
	msg  string
}

func (e *remoteError) Error() string {
	if e.msg == "" {
		return e.base.Error()
	}
	return e.msg
}

func (e *remoteError) Unwrap() error { return e.base }

// HealthResponse is the response for /v1/sys/health
type HealthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	ServerTimeUTC int64          `json:"server_time_utc"`
	Uptime        string         `json:"uptime"`
	Stats         map[string]int `json:"stats,omitempty"`
}

// generateRequestID creates a unique request ID using ULID
func generateRequestID() string {
	return ulid.Make().String()
}
