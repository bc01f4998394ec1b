package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rugwirobaker/ember/internal/config"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code int
	out  string
	err  string
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	streams := iostreams.NewStream(io.NopCloser(strings.NewReader(stdin)), &out, &errOut)
	code := Run(context.Background(), streams, args...)
	return result{code: code, out: out.String(), err: errOut.String()}
}

type fixture struct {
	dir    string
	config string
	socket string
}

func (f fixture) args(args ...string) []string {
	return append(args, "--config", f.config, "--socket", "unix:"+f.socket)
}

func startServer(t *testing.T) fixture {
	t.Helper()
	for _, name := range []string{"EMBER_SOCKET_PATH", "EMBER_TTL", "EMBER_IDLE_TIMEOUT", "EMBER_LOG_LEVEL", "EMBER_AUDIT_PATH"} {
		t.Setenv(name, "")
	}

	dir, err := os.MkdirTemp("", "em")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := fixture{
		dir:    dir,
		config: filepath.Join(dir, "ember.yaml"),
		socket: filepath.Join(dir, "s.sock"),
	}

	res := run(t, "", "config", "init", "--path", f.config)
	require.Equal(t, 0, res.code, res.err)

	cfg := config.Default()
	cfg.SocketPath = f.socket
	cfg.Audit.Path = filepath.Join(dir, "audit.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(cfg, "test", logger)
	require.NoError(t, err)
	ls, err := server.Listen("unix:"+f.socket, 0o600)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx, ls)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return f
}

func TestSetGetRemove(t *testing.T) {
	f := startServer(t)

	res := run(t, "hunter2\n", f.args("set", "alice@example.com", "passphrase")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("get", "alice@example.com", "passphrase")...)
	require.Equal(t, 0, res.code, res.err)
	assert.Equal(t, "hunter2\n", res.out)

	res = run(t, "", f.args("get", "--json", "alice@example.com", "passphrase")...)
	require.Equal(t, 0, res.code, res.err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.out), &got))
	assert.Equal(t, "hunter2", got["value"])

	res = run(t, "", f.args("rm", "alice@example.com", "passphrase")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("get", "alice@example.com", "passphrase")...)
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.err, "no value")
}

func TestSessionFlagSelectsSessionStore(t *testing.T) {
	f := startServer(t)

	res := run(t, "token\n", f.args("set", "--session", "alice@example.com", "sid")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("get", "alice@example.com", "sid")...)
	assert.Equal(t, 2, res.code, "session value is not in the expiring store")

	res = run(t, "", f.args("get", "--session", "alice@example.com", "sid")...)
	require.Equal(t, 0, res.code, res.err)
	assert.Equal(t, "token\n", res.out)
}

func TestSetRejectsConflictingExpiry(t *testing.T) {
	f := startServer(t)

	res := run(t, "v\n", f.args("set", "--ttl", "1m", "--expires-at", "2030-01-01T00:00:00Z", "a@b.c", "k")...)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "mutually exclusive")
}

func TestSetWithPastExpiryLeavesNothing(t *testing.T) {
	f := startServer(t)

	res := run(t, "v\n", f.args("set", "--expires-at", "2001-01-01T00:00:00Z", "a@b.c", "k")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("get", "a@b.c", "k")...)
	assert.Equal(t, 2, res.code)
}

func TestClearNeedsConfirmation(t *testing.T) {
	f := startServer(t)

	res := run(t, "v\n", f.args("set", "a@b.c", "k")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("clear")...)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "--yes")

	res = run(t, "", f.args("get", "a@b.c", "k")...)
	assert.Equal(t, 0, res.code, "refused clear keeps values")

	res = run(t, "", f.args("clear", "--yes")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", f.args("get", "a@b.c", "k")...)
	assert.Equal(t, 2, res.code)
}

func TestStatus(t *testing.T) {
	f := startServer(t)

	res := run(t, "", f.args("status", "--json")...)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, `"status": "ok"`)
	assert.Contains(t, res.out, `"version": "test"`)

	res = run(t, "", f.args("status")...)
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, f.socket)
}

func TestStatusWithoutServer(t *testing.T) {
	f := startServer(t)
	f.socket = filepath.Join(f.dir, "missing.sock")

	res := run(t, "", f.args("status")...)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "unavailable")
}

func TestAuditListsOperations(t *testing.T) {
	f := startServer(t)
	auditPath := filepath.Join(f.dir, "audit.db")

	res := run(t, "v\n", f.args("set", "a@b.c", "k")...)
	require.Equal(t, 0, res.code, res.err)

	res = run(t, "", "audit", "--config", f.config, "--audit-path", auditPath, "--json")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, `"op": "store.set"`)
	assert.NotContains(t, res.out, `"v"`)
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	f := startServer(t)

	res := run(t, "", "config", "init", "--path", f.config)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "already exists")

	res = run(t, "", "config", "init", "--force", "--path", f.config)
	assert.Equal(t, 0, res.code, res.err)
}

func TestConfigDiffShowsOverrides(t *testing.T) {
	f := startServer(t)

	res := run(t, "", "config", "diff", "--config", f.config, "--socket", "/tmp/other.sock")
	require.Equal(t, 0, res.code, res.err)
	assert.Contains(t, res.out, "/tmp/other.sock")
}

func TestUnknownCommand(t *testing.T) {
	res := run(t, "", "frobnicate")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.err, "unknown command")
}
