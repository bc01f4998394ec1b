package relay_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rugwirobaker/ember/internal/audit"
	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/rugwirobaker/ember/internal/secret"
	"github.com/rugwirobaker/ember/internal/secret/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// socketPath returns a short socket path; t.TempDir can exceed the unix
// socket path limit on some platforms.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "em")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func serve(t *testing.T, srv *relay.Server, path string) {
	t.Helper()
	ls, err := relay.Listen("unix:" + path)
	require.NoError(t, err)

	hs := &http.Server{Handler: srv.Handler(), ConnContext: srv.ConnContext}
	go hs.Serve(ls)
	t.Cleanup(func() { hs.Close() })
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Record(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func startStore(t *testing.T, rec audit.Recorder) (string, *memory.Backend) {
	t.Helper()
	backend := memory.New(memory.Config{TTL: time.Hour}, discard())
	t.Cleanup(func() { backend.Close() })

	srv := relay.NewServer(relay.ServerConfig{
		Version:        "test",
		RequireSameUID: true,
		Stats: func() map[string]int {
			st := backend.Stats()
			return map[string]int{"secrets": st.Secrets, "session": st.Session}
		},
	}, discard())
	relay.RegisterStore(srv, backend, rec, discard())

	path := socketPath(t)
	serve(t, srv, path)
	return path, backend
}

func newClient(t *testing.T, dial relay.Dialer, cfg relay.ClientConfig) *relay.Client {
	t.Helper()
	c, err := relay.NewClient(dial, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func scope(t *testing.T, account, key string) secret.Scope {
	t.Helper()
	s, err := secret.NewScope(account, key)
	require.NoError(t, err)
	return s
}

func TestClientsShareOneStore(t *testing.T) {
	ctx := context.Background()
	path, _ := startStore(t, nil)

	a := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	b := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "passphrase")

	require.NoError(t, a.Set(ctx, s, []byte("correct horse"), time.Time{}))

	v, ok, err := b.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "correct horse", string(v))

	require.NoError(t, b.Set(ctx, s, nil, time.Time{}))
	_, ok, err = a.Get(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientPreservesOrder(t *testing.T) {
	ctx := context.Background()
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "counter")

	for i := 0; i < 50; i++ {
		want := fmt.Sprintf("v%d", i)
		require.NoError(t, c.Set(ctx, s, []byte(want), time.Time{}))

		got, ok, err := c.Get(ctx, s)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, string(got))
	}
}

func TestClientExpiration(t *testing.T) {
	ctx := context.Background()
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "short")

	require.NoError(t, c.Set(ctx, s, []byte("v"), time.Now().Add(-time.Second)))
	_, ok, err := c.Get(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, s, []byte("v"), time.Now().Add(time.Hour)))
	_, ok, err = c.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientSession(t *testing.T) {
	ctx := context.Background()
	path, backend := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "token")

	require.NoError(t, c.Session().Set(ctx, s, []byte("sv"), time.Time{}))

	v, ok, err := c.Session().Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sv", string(v))

	_, ok, err = c.Get(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Session().Clear(ctx))
	assert.Equal(t, 0, backend.Stats().Session)
}

func TestClientClear(t *testing.T) {
	ctx := context.Background()
	path, backend := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})

	require.NoError(t, c.Set(ctx, scope(t, "a@example.com", "k1"), []byte("v"), time.Time{}))
	require.NoError(t, c.Set(ctx, scope(t, "b@example.com", "k2"), []byte("v"), time.Time{}))
	require.NoError(t, c.Clear(ctx))

	assert.Equal(t, 0, backend.Stats().Secrets)
}

func TestClientUnavailable(t *testing.T) {
	c := newClient(t, relay.UnixDialer(socketPath(t)), relay.ClientConfig{Retries: -1})

	_, _, err := c.Get(context.Background(), scope(t, "alice@example.com", "k"))
	assert.ErrorIs(t, err, secret.ErrUnavailable)
}

func TestClientRedialsUntilServerListens(t *testing.T) {
	path := socketPath(t)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{Retries: 10, Timeout: 10 * time.Second})

	backend := memory.New(memory.Config{}, discard())
	t.Cleanup(func() { backend.Close() })
	srv := relay.NewServer(relay.ServerConfig{}, discard())
	relay.RegisterStore(srv, backend, nil, discard())

	time.AfterFunc(100*time.Millisecond, func() {
		ls, err := relay.Listen(path)
		if err != nil {
			return
		}
		hs := &http.Server{Handler: srv.Handler()}
		go hs.Serve(ls)
		t.Cleanup(func() { hs.Close() })
	})

	_, ok, err := c.Get(context.Background(), scope(t, "alice@example.com", "k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := relay.NewServer(relay.ServerConfig{}, discard())
	srv.Handle(relay.OpStoreGet, func(ctx context.Context, _ *relay.Request) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	path := socketPath(t)
	serve(t, srv, path)

	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, _, err := c.Get(context.Background(), scope(t, "alice@example.com", "k"))
	assert.ErrorIs(t, err, secret.ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientCallerCanceled(t *testing.T) {
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, scope(t, "alice@example.com", "k"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientClosed(t *testing.T) {
	path, _ := startStore(t, nil)
	c, err := relay.NewClient(relay.UnixDialer(path), relay.ClientConfig{}, discard())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, err = c.Get(context.Background(), scope(t, "alice@example.com", "k"))
	assert.ErrorIs(t, err, secret.ErrClosed)
}

func TestSendEchoesRequestID(t *testing.T) {
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})

	resp, err := c.Send(context.Background(), &relay.Request{
		RequestID: "req-1",
		Op:        relay.OpStoreGet,
		Account:   "alice@example.com",
		Key:       "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Nil(t, resp.Result)
}

func TestSendErrors(t *testing.T) {
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	ctx := context.Background()

	_, err := c.Send(ctx, &relay.Request{Op: relay.OpStoreSet, Key: "k", Value: []byte("v")})
	assert.ErrorIs(t, err, secret.ErrInvalidScope)

	_, err = c.Send(ctx, &relay.Request{Op: "store.bogus"})
	assert.ErrorIs(t, err, relay.ErrUnknownOp)
}

func TestServerRejectsMalformedJSON(t *testing.T) {
	path, _ := startStore(t, nil)
	hc := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return relay.UnixDialer(path)(ctx)
		},
	}}

	resp, err := hc.Post("http://ember"+relay.RelayPath, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := hc.Get("http://ember" + relay.RelayPath)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	path, _ := startStore(t, rec)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{CallerID: "tab-1"})
	s := scope(t, "alice@example.com", "pp")

	require.NoError(t, c.Set(ctx, s, []byte("v"), time.Time{}))
	_, _, err := c.Get(ctx, s)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, s, nil, time.Time{}))
	_, _, err = c.Get(ctx, s)
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 4)

	var outcomes []string
	for _, ev := range events {
		outcomes = append(outcomes, ev.Outcome)
		assert.Equal(t, "tab-1", ev.Caller)
		assert.Equal(t, "alice@example.com", ev.Account)
		assert.NotEmpty(t, ev.RequestID)
	}
	assert.Equal(t, []string{audit.OutcomeStored, audit.OutcomeHit, audit.OutcomeRemoved, audit.OutcomeMiss}, outcomes)
}

func TestAuditUsesStoreClock(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}

	// The store's clock runs an hour behind the wall clock.
	behind := func() time.Time { return time.Now().Add(-time.Hour) }
	backend := memory.New(memory.Config{TTL: time.Hour, Now: behind}, discard())
	t.Cleanup(func() { backend.Close() })

	srv := relay.NewServer(relay.ServerConfig{}, discard())
	relay.RegisterStore(srv, backend, rec, discard())
	path := socketPath(t)
	serve(t, srv, path)

	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "pp")

	// Past by the wall clock, still ahead by the store's clock.
	require.NoError(t, c.Set(ctx, s, []byte("v"), time.Now().Add(-time.Minute)))
	_, ok, err := c.Get(ctx, s)
	require.NoError(t, err)
	require.True(t, ok)

	// Behind the store's clock as well.
	require.NoError(t, c.Set(ctx, s, []byte("v"), time.Now().Add(-2*time.Hour)))
	_, ok, err = c.Get(ctx, s)
	require.NoError(t, err)
	require.False(t, ok)

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, audit.OutcomeStored, events[0].Outcome)
	assert.Equal(t, audit.OutcomeRemoved, events[2].Outcome)
}

func TestValuesKeepTheirBytes(t *testing.T) {
	ctx := context.Background()
	path, backend := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})

	for name, value := range map[string][]byte{
		"invalid utf-8": []byte("key\xff\xfematerial"),
		"binary":        {0x00, 0x01, 0xc3, 0x28, 0xff},
		"empty":         {},
	} {
		t.Run(name, func(t *testing.T) {
			s := scope(t, "alice@example.com", name)
			require.NoError(t, c.Set(ctx, s, value, time.Time{}))

			got, ok, err := c.Get(ctx, s)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, value, got)

			local, ok, err := backend.Get(ctx, s)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, value, local)
		})
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	path, _ := startStore(t, nil)
	c := newClient(t, relay.UnixDialer(path), relay.ClientConfig{})

	require.NoError(t, c.Set(ctx, scope(t, "alice@example.com", "k"), []byte("v"), time.Time{}))

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, 1, h.Stats["secrets"])
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	upstreamPath, _ := startStore(t, nil)
	upstream := newClient(t, relay.UnixDialer(upstreamPath), relay.ClientConfig{})

	proxy := relay.NewServer(relay.ServerConfig{}, discard())
	relay.Forward(proxy, upstream, false, discard())
	proxyPath := socketPath(t)
	serve(t, proxy, proxyPath)

	guest := newClient(t, relay.UnixDialer(proxyPath), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "disk")

	require.NoError(t, guest.Set(ctx, s, []byte("key"), time.Time{}))

	v, ok, err := upstream.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "key", string(v))
}

func TestForwardReadOnly(t *testing.T) {
	ctx := context.Background()
	upstreamPath, _ := startStore(t, nil)
	upstream := newClient(t, relay.UnixDialer(upstreamPath), relay.ClientConfig{})
	s := scope(t, "alice@example.com", "disk")
	require.NoError(t, upstream.Set(ctx, s, []byte("key"), time.Time{}))

	proxy := relay.NewServer(relay.ServerConfig{}, discard())
	relay.Forward(proxy, upstream, true, discard())
	proxyPath := socketPath(t)
	serve(t, proxy, proxyPath)

	guest := newClient(t, relay.UnixDialer(proxyPath), relay.ClientConfig{})

	v, ok, err := guest.Get(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "key", string(v))

	err = guest.Set(ctx, s, []byte("other"), time.Time{})
	assert.ErrorIs(t, err, relay.ErrForbidden)
	assert.ErrorIs(t, guest.Clear(ctx), relay.ErrForbidden)
}

func TestForwardUpstreamUnavailable(t *testing.T) {
	upstream := newClient(t, relay.UnixDialer(socketPath(t)), relay.ClientConfig{Retries: -1})

	proxy := relay.NewServer(relay.ServerConfig{}, discard())
	relay.Forward(proxy, upstream, false, discard())
	proxyPath := socketPath(t)
	serve(t, proxy, proxyPath)

	guest := newClient(t, relay.UnixDialer(proxyPath), relay.ClientConfig{})
	_, _, err := guest.Get(context.Background(), scope(t, "alice@example.com", "k"))
	assert.ErrorIs(t, err, secret.ErrUnavailable)
}
