package relay

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is returned by New and ParseTarget for unusable settings.
var ErrInvalidConfig = errors.New("relay: invalid config")

// Target is the fixed upstream every session connects to.
type Target struct {
	Network string // "tcp", "tcp4", "tcp6" or "unix"
	Address string
}

func (t Target) String() string { return t.Network + ":" + t.Address }

// ParseTarget accepts "unix:/path/to.sock", "tcp:host:port" or a bare "host:port".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}
	for _, network := range []string{"unix", "tcp4", "tcp6", "tcp"} {
		if rest, ok := strings.CutPrefix(s, network+":"); ok {
			if rest == "" {
				return Target{}, fmt.Errorf("%w: %q has no address", ErrInvalidConfig, s)
			}
			return Target{Network: network, Address: rest}, nil
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") {
		return Target{Network: "unix", Address: s}, nil
	}
	if !strings.Contains(s, ":") {
		return Target{}, fmt.Errorf("%w: %q is neither host:port nor a socket path", ErrInvalidConfig, s)
	}
	return Target{Network: "tcp", Address: s}, nil
}
