package main

import (
	"flag"
	"time"
)

// Config holds probe runtime configuration.
type Config struct {
	Addr    string
	Send    string
	Timeout time.Duration
}

var cfg Config

func init() {
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:7000", "relay address (host:port, tcp:host:port or unix:/path)")
	flag.StringVar(&cfg.Send, "send", "", "payload to send; stdin is sent when empty")
	flag.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "give up waiting for the reply after this long")
}
