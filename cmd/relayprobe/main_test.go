package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoOnce accepts one connection and echoes it back upper-cased until EOF.
func echoOnce(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		_, _ = c.Write([]byte(strings.ToUpper(string(b))))
	}()
	return ln.Addr().String()
}

func TestProbeRoundTrip(t *testing.T) {
	addr := echoOnce(t)
	var out bytes.Buffer
	n, err := probe(context.Background(), "tcp:"+addr, strings.NewReader("foo"), &out, 5*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, "FOO", out.String())
}

func TestProbeDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = probe(context.Background(), addr, strings.NewReader("x"), io.Discard, time.Second)
	assert.ErrorContains(t, err, "dial")
}

func TestProbeBadAddress(t *testing.T) {
	_, err := probe(context.Background(), "nonsense", strings.NewReader("x"), io.Discard, time.Second)
	assert.Error(t, err)
}
