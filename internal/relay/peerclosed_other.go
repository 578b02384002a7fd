//go:build !unix

package relay

import (
	"errors"
	"io"
)

func peerClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe)
}
