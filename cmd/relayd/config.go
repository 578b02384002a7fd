package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration derived from flags and RELAY_* env vars.
type Config struct {
	Listen      string
	Upstream    string
	Count       int
	MaxInFlight int
	BufferSize  int
	DialTimeout time.Duration
	AcceptRate  int
	SourceRate  int
	Burst       int
	LimiterIdle time.Duration
	MetricsAddr string
	Debug       bool
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	SQLitePath  string
	RecentKeep  int
}

var cfg Config

// init registers flags into the global flag set. main() calls loadConfig before using cfg.
func init() { registerFlags(flag.CommandLine, &cfg) }

func registerFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Listen, "listen", "127.0.0.1:7000", "address clients connect to (host:port, tcp:host:port or unix:/path)")
	fs.StringVar(&c.Upstream, "upstream", "", "address every session is relayed to (same forms as -listen)")
	fs.IntVar(&c.Count, "count", 0, "sessions to accept before exiting (0 = until signal)")
	fs.IntVar(&c.MaxInFlight, "max-inflight", 0, "maximum concurrently open client connections (0 = unlimited)")
	fs.IntVar(&c.BufferSize, "buffer", 4096, "per-direction copy buffer in bytes")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", 5*time.Second, "time limit for connecting to the upstream (0 = none)")
	fs.IntVar(&c.AcceptRate, "accept-rate", 0, "global sessions per second admitted (0 = no limit)")
	fs.IntVar(&c.SourceRate, "source-rate", 0, "sessions per second admitted per source host (0 = no limit)")
	fs.IntVar(&c.Burst, "burst", 20, "token bucket capacity for both rate limits")
	fs.DurationVar(&c.LimiterIdle, "limiter-idle", 5*time.Minute, "forget per-source buckets idle this long")
	fs.StringVar(&c.MetricsAddr, "metrics", ":9100", "metrics, stats and health listen address (empty disables)")
	fs.BoolVar(&c.Debug, "debug", false, "enable debug logs")
	fs.StringVar(&c.RedisAddr, "redis", "", "redis address for a shared session ledger")
	fs.StringVar(&c.RedisPass, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&c.SQLitePath, "sqlite", "", "sqlite file for a persistent session ledger (ignored with -redis)")
	fs.IntVar(&c.RecentKeep, "recent", 100, "recent sessions kept for /api/stats")
}

// loadConfig parses args into the flags registered on fs, then fills every
// flag not given explicitly from RELAY_<FLAG> (e.g. -max-inflight from
// RELAY_MAX_INFLIGHT). c must be the Config registered on fs.
func loadConfig(fs *flag.FlagSet, c *Config, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || err != nil {
			return
		}
		key := envKey(f.Name)
		if v, ok := os.LookupEnv(key); ok {
			if serr := f.Value.Set(v); serr != nil {
				err = fmt.Errorf("%s=%q: %w", key, v, serr)
			}
		}
	})
	if err != nil {
		return err
	}
	if c.Upstream == "" {
		return fmt.Errorf("-upstream is required")
	}
	if c.Count < 0 {
		return fmt.Errorf("-count must not be negative")
	}
	return nil
}

func envKey(flagName string) string {
	return "RELAY_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
