package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"
)

// HostCID is the vsock context id of the host as seen from a guest.
const HostCID uint32 = 2

// Dialer opens a connection to a relay server.
type Dialer func(ctx context.Context) (net.Conn, error)

// UnixDialer dials the unix socket at path.
func UnixDialer(path string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("could not dial %s: %w", path, err)
		}
		return conn, nil
	}
}

// VsockDialer dials port on the vsock context cid.
func VsockDialer(cid, port uint32) Dialer {
	return func(_ context.Context) (net.Conn, error) {
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect via vsock %d:%d: %w", cid, port, err)
		}
		return conn, nil
	}
}

// FirecrackerDialer reaches a guest vsock port through the unix socket
// Firecracker exposes for it, using the CONNECT handshake.
func FirecrackerDialer(udsPath string, port uint32) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "unix", udsPath)
		if err != nil {
			return nil, fmt.Errorf("could not dial %s: %w", udsPath, err)
		}

		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}

		if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not write vsock CONNECT %d line: %w", port, err)
		}

		// read one line (OK 123456789)
		l, _, err := bufio.NewReaderSize(conn, 64).ReadLine()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("could not read OK line from vsock: %w", err)
		}
		if !strings.HasPrefix(string(l), "OK ") {
			conn.Close()
			return nil, fmt.Errorf("vsock CONNECT %d refused: %q", port, l)
		}

		conn.SetDeadline(time.Time{})
		return conn, nil
	}
}

// ParseDialer builds a Dialer from an address of the form
//
//	unix:/path/to/socket   (or a bare path)
//	vsock:CID:PORT
//	fcvsock:/path/to/v.sock:PORT
func ParseDialer(addr string) (Dialer, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok || strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, ".") {
		return UnixDialer(addr), nil
	}

	switch scheme {
	case "unix":
		if rest == "" {
			return nil, fmt.Errorf("invalid address %q: empty path", addr)
		}
		return UnixDialer(rest), nil
	case "vsock":
		cidStr, portStr, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid address %q: want vsock:CID:PORT", addr)
		}
		cid, err := parseUint32(cidStr)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock cid in %q: %w", addr, err)
		}
		port, err := parseUint32(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port in %q: %w", addr, err)
		}
		return VsockDialer(cid, port), nil
	case "fcvsock":
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			return nil, fmt.Errorf("invalid address %q: want fcvsock:PATH:PORT", addr)
		}
		port, err := parseUint32(rest[i+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port in %q: %w", addr, err)
		}
		return FirecrackerDialer(rest[:i], port), nil
	default:
		return nil, fmt.Errorf("invalid address %q: unknown scheme %q", addr, scheme)
	}
}

// Listen opens a listener for addr. Unix addresses remove any stale socket
// first; "vsock:PORT" listens on the local vsock context.
func Listen(addr string) (net.Listener, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if ok && scheme == "vsock" {
		port, err := parseUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port in %q: %w", addr, err)
		}
		ls, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on vsock port %d: %w", port, err)
		}
		return ls, nil
	}

	path := addr
	if ok && scheme == "unix" {
		path = rest
	}

	// Only a stale socket may be replaced; anything else at path is left alone.
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("refusing to replace %s: not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove old socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	ls, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return ls, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// dialError marks a failure to reach the server at all. Only these are
// retried, since the request never left this process.
type dialError struct {
	err error
}

func (e *dialError) Error() string { return e.err.Error() }

func (e *dialError) Unwrap() error { return e.err }

// retryable reports whether a dial failure may clear up on its own, such as
// a server that is restarting.
func (e *dialError) retryable() bool {
	return errors.Is(e.err, syscall.ECONNREFUSED) ||
		errors.Is(e.err, syscall.ENOENT) ||
		errors.Is(e.err, syscall.ECONNRESET)
}
