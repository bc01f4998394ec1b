package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rugwirobaker/ember/internal/pointer"
	"github.com/rugwirobaker/ember/internal/secret"
	"github.com/valyala/bytebufferpool"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3

	defaultQueueSize = 64
	callerAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout bounds each request including redials. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retries is the number of redials after a refused connection. Zero uses
	// DefaultRetries; a negative value disables redialing.
	Retries int

	// QueueSize bounds the number of requests waiting to be sent.
	QueueSize int

	// CallerID identifies this client to the server. Generated when empty.
	CallerID string
}

// Client relays store operations to a Server. Requests from one Client
// are sent one at a time in the order they were issued, so a Set followed
// by a Get from the same caller observes the Set.
type Client struct {
	id     string
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger

	calls     chan *call
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ secret.Provider = (*Client)(nil)

type call struct {
	ctx    context.Context
	req    *Request
	result chan callResult
}

type callResult struct {
	resp *Response
	err  error
}

func NewClient(dial Dialer, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.CallerID == "" {
		id, err := nanoid.Generate(callerAlphabet, 12)
		if err != nil {
			return nil, fmt.Errorf("failed to generate caller id: %w", err)
		}
		cfg.CallerID = id
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			conn, err := dial(ctx)
			if err != nil {
				return nil, &dialError{err: err}
			}
			return conn, nil
		},
		MaxIdleConns:    1,
		IdleConnTimeout: 30 * time.Second,
	}

	c := &Client{
		id:  cfg.CallerID,
		cfg: cfg,
		http: &http.Client{
			Transport: &maxBytesTransport{
				Transport:   transport,
				MaxBodySize: MaxBodySize,
			},
		},
		logger: logger.With("caller", cfg.CallerID),
		calls:  make(chan *call, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// ID returns the caller id sent with every request.
func (c *Client) ID() string {
	return c.id
}

// Close stops the client. Queued requests that have not been sent fail
// with secret.ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	c.http.CloseIdleConnections()
	return nil
}

// run sends queued calls one by one.
func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case cl := <-c.calls:
			if err := cl.ctx.Err(); err != nil {
				cl.result <- callResult{err: err}
				continue
			}
			resp, err := c.do(cl.ctx, cl.req)
			cl.result <- callResult{resp: resp, err: err}
		}
	}
}

// Send queues req and waits for its response. Failures reported by the
// server are returned as errors wrapping the matching sentinel; failures
// to reach it wrap secret.ErrUnavailable.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = generateRequestID()
	}
	cl := &call{ctx: ctx, req: req, result: make(chan callResult, 1)}

	select {
	case <-c.done:
		return nil, secret.ErrClosed
	default:
	}

	select {
	case c.calls <- cl:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, secret.ErrClosed
	}

	select {
	case r := <-cl.result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, secret.ErrClosed
	}
}

// do performs one request, redialing with backoff while the server
// refuses connections.
func (c *Client) do(parent context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	buf := bytebufferpool.Get()
	defer func() {
		secret.Wipe(buf.B)
		bytebufferpool.Put(buf)
	}()
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	b := backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, buf.B)
		if err == nil {
			if resp.RequestID != req.RequestID {
				return nil, fmt.Errorf("%w: response %q does not match request %q",
					secret.ErrUnavailable, resp.RequestID, req.RequestID)
			}
			if err := resp.Err(); err != nil {
				return nil, err
			}
			return resp, nil
		}

		var de *dialError
		if !errors.As(err, &de) || !de.retryable() || attempt >= c.cfg.Retries {
			return nil, c.unavailable(parent, err)
		}

		wait := b.Duration()
		c.logger.Debug("Relay unreachable, retrying",
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, c.unavailable(parent, err)
		}
	}
}

// unavailable reports err as secret.ErrUnavailable unless the caller gave
// up first.
func (c *Client) unavailable(parent context.Context, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	c.logger.Warn("Relay request failed", "error", err)
	return fmt.Errorf("%w: %v", secret.ErrUnavailable, err)
}

func (c *Client) roundTrip(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://ember"+RelayPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderCaller, c.id)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && out.Error == "" {
		out.Error = resp.Status
		out.Code = CodeInternal
	}
	return &out, nil
}

// Health queries the server health endpoint. It bypasses the request queue.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://ember"+HealthPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderCaller, c.id)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", secret.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed: %s", resp.Status)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

func (c *Client) Get(ctx context.Context, scope secret.Scope) ([]byte, bool, error) {
	return c.get(ctx, OpStoreGet, scope)
}

func (c *Client) Set(ctx context.Context, scope secret.Scope, value []byte, expiresAt time.Time) error {
	return c.set(ctx, OpStoreSet, scope, value, expiresAt)
}

func (c *Client) Clear(ctx context.Context) error {
	return c.clear(ctx, OpStoreClear)
}

// Session returns a view of the client that addresses the session table.
func (c *Client) Session() secret.Store {
	return sessionClient{c}
}

type sessionClient struct{ c *Client }

func (s sessionClient) Get(ctx context.Context, scope secret.Scope) ([]byte, bool, error) {
	return s.c.get(ctx, OpSessionGet, scope)
}

func (s sessionClient) Set(ctx context.Context, scope secret.Scope, value []byte, expiresAt time.Time) error {
	return s.c.set(ctx, OpSessionSet, scope, value, expiresAt)
}

func (s sessionClient) Clear(ctx context.Context) error {
	return s.c.clear(ctx, OpSessionClear)
}

func (c *Client) get(ctx context.Context, op Op, scope secret.Scope) ([]byte, bool, error) {
	if err := scope.Validate(); err != nil {
		return nil, false, err
	}
	resp, err := c.Send(ctx, &Request{Op: op, Account: scope.Account, Key: scope.Key})
	if err != nil {
		return nil, false, err
	}
	if resp.Result == nil {
		return nil, false, nil
	}
	return resp.Result, true, nil
}

func (c *Client) set(ctx context.Context, op Op, scope secret.Scope, value []byte, expiresAt time.Time) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	req := &Request{
		Op:         op,
		Account:    scope.Account,
		Key:        scope.Key,
		Value:      value,
		Expiration: pointer.UnixMilli(expiresAt),
	}
	_, err := c.Send(ctx, req)
	return err
}

func (c *Client) clear(ctx context.Context, op Op) error {
	_, err := c.Send(ctx, &Request{Op: op})
	return err
}

type maxBytesTransport struct {
	Transport   http.RoundTripper
	MaxBodySize int64
}

func (t *maxBytesTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Limit the response body to the specified maximum size
	resp.Body = http.MaxBytesReader(nil, resp.Body, t.MaxBodySize)

	return resp, nil
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *maxBytesTransport) CloseIdleConnections() {
	if ci, ok := t.Transport.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
