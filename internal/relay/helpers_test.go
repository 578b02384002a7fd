package relay

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// countingConn records how often Close was called.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// countingListener counts successful accepts and can fail from a given call on.
type countingListener struct {
	net.Listener
	accepts atomic.Int32
	failAt  int32 // 1-based Accept call that fails; 0 never
	calls   atomic.Int32
	failErr error
}

func (l *countingListener) Accept() (net.Conn, error) {
	if n := l.calls.Add(1); l.failAt > 0 && n >= l.failAt {
		return nil, l.failErr
	}
	c, err := l.Listener.Accept()
	if err == nil {
		l.accepts.Add(1)
	}
	return c, err
}

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func listenUnix(t *testing.T, name string) net.Listener {
	t.Helper()
	// Kept short: sun_path is limited to ~100 bytes.
	dir, err := os.MkdirTemp("", "relay")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	ln, err := net.Listen("unix", filepath.Join(dir, name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func targetOf(ln net.Listener) Target {
	return Target{Network: ln.Addr().Network(), Address: ln.Addr().String()}
}

// startServer runs srv in the background and returns a func waiting for Run.
func startServer(t *testing.T, ctx context.Context, cfg Config, ln net.Listener) (*Server, func() error) {
	t.Helper()
	srv, err := New(cfg)
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx, ln) }()
	return srv, func() error {
		t.Helper()
		select {
		case err := <-errc:
			return err
		case <-time.After(testTimeout):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

func dial(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	c, err := net.DialTimeout(ln.Addr().Network(), ln.Addr().String(), testTimeout)
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(testTimeout)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func accept(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	type res struct {
		c   net.Conn
		err error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := ln.Accept()
		ch <- res{c, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		require.NoError(t, r.c.SetDeadline(time.Now().Add(testTimeout)))
		t.Cleanup(func() { _ = r.c.Close() })
		return r.c
	case <-time.After(testTimeout):
		t.Fatal("upstream accept timed out")
		return nil
	}
}

func send(t *testing.T, c net.Conn, s string) {
	t.Helper()
	_, err := c.Write([]byte(s))
	require.NoError(t, err)
}

func expect(t *testing.T, c net.Conn, want string) {
	t.Helper()
	buf := make([]byte, len(want))
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	require.Equal(t, want, string(buf))
}

func expectEOF(t *testing.T, c net.Conn) {
	t.Helper()
	n, err := c.Read(make([]byte, 1))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}
