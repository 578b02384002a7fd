//go:build unix

package relay

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// peerClosed reports write errors caused by the sink's peer having gone away.
func peerClosed(err error) bool {
	return errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe)
}
