package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/matst80/relay/internal/obs"
	"github.com/matst80/relay/internal/relay"
)

func main() {
	flag.Parse()
	// stdout carries the reply.
	obs.SetOutput(os.Stderr)

	var payload io.Reader = os.Stdin
	if cfg.Send != "" {
		payload = strings.NewReader(cfg.Send)
	}
	n, err := probe(context.Background(), cfg.Addr, payload, os.Stdout, cfg.Timeout)
	if err != nil {
		obs.Error("probe.failed", obs.Fields{"addr": cfg.Addr, "err": err, "received": n})
		os.Exit(1)
	}
	obs.Info("probe.done", obs.Fields{"addr": cfg.Addr, "received": n})
}

type closeWriter interface {
	CloseWrite() error
}

// probe sends payload through the relay at addr, half-closes, and copies the
// reply to out until the relay closes or timeout passes. A timeout after some
// reply bytes arrived is not an error.
func probe(ctx context.Context, addr string, payload io.Reader, out io.Writer, timeout time.Duration) (int64, error) {
	target, err := relay.ParseTarget(addr)
	if err != nil {
		return 0, err
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, target.Network, target.Address)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	sent, err := io.Copy(conn, payload)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	obs.Debug("probe.sent", obs.Fields{"bytes": sent})
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}

	n, err := io.Copy(out, conn)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() && n > 0 {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("receive: %w", err)
	}
	return n, nil
}
