package relay_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialer(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{addr: "/run/ember.sock"},
		{addr: "./ember.sock"},
		{addr: "unix:/run/ember.sock"},
		{addr: "vsock:2:10100"},
		{addr: "fcvsock:/srv/vm/v.sock:10100"},
		{addr: "unix:", wantErr: true},
		{addr: "vsock:2", wantErr: true},
		{addr: "vsock:x:10", wantErr: true},
		{addr: "fcvsock:/srv/vm/v.sock", wantErr: true},
		{addr: "tcp:localhost:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			d, err := relay.ParseDialer(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, d)
		})
	}
}

func TestListenKeepsNonSocketPaths(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("keep me"), 0o600))

	sub := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(sub, 0o700))
	inner := filepath.Join(sub, "inner.txt")
	require.NoError(t, os.WriteFile(inner, []byte("keep me too"), 0o600))

	for _, path := range []string{file, sub} {
		ls, err := relay.Listen("unix:" + path)
		if ls != nil {
			ls.Close()
		}
		assert.ErrorContains(t, err, "not a socket", path)
	}

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(b))

	b, err = os.ReadFile(inner)
	require.NoError(t, err)
	assert.Equal(t, "keep me too", string(b))
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	old, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	old.SetUnlinkOnClose(false)
	require.NoError(t, old.Close())

	fi, err := os.Lstat(path)
	require.NoError(t, err)
	require.NotZero(t, fi.Mode()&os.ModeSocket, "stale socket left behind")

	ls, err := relay.Listen("unix:" + path)
	require.NoError(t, err)
	defer ls.Close()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()
}
