package relay

import (
	"errors"
	"fmt"
	"io"
)

const (
	DefaultBufferSize = 4096
	minBufferSize     = 256
	maxBufferSize     = 64 * 1024

	// Same bound bufio uses before giving up on a reader returning (0, nil).
	maxEmptyReads = 100
)

// OutcomeKind tags the result of a single Copy.
type OutcomeKind int

const (
	Transferred OutcomeKind = iota // bytes moved, direction still open
	Closed                         // orderly end: source EOF or sink peer gone
	Failed                         // read or write error
)

func (k OutcomeKind) String() string {
	switch k {
	case Transferred:
		return "transferred"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what one Copy did. N counts bytes written to the sink and may be
// non-zero together with Closed when the final read also reported EOF.
type Outcome struct {
	Kind OutcomeKind
	N    int
	Err  error
}

// Copy moves at most one chunk of len(buf) bytes from src to dst. It never
// closes either side. Reads returning no data and no error are retried; a
// reader that keeps doing so fails with io.ErrNoProgress.
func Copy(dst io.Writer, src io.Reader, buf []byte) Outcome {
	var (
		n    int
		rerr error
	)
	for i := 0; ; i++ {
		n, rerr = src.Read(buf)
		if n > 0 || rerr != nil {
			break
		}
		if i == maxEmptyReads-1 {
			return Outcome{Kind: Failed, Err: fmt.Errorf("read: %w", io.ErrNoProgress)}
		}
	}
	if n > 0 {
		if _, werr := dst.Write(buf[:n]); werr != nil {
			if peerClosed(werr) {
				return Outcome{Kind: Closed, Err: werr}
			}
			return Outcome{Kind: Failed, Err: fmt.Errorf("write: %w", werr)}
		}
	}
	switch {
	case rerr == nil:
		return Outcome{Kind: Transferred, N: n}
	case errors.Is(rerr, io.EOF):
		return Outcome{Kind: Closed, N: n}
	default:
		return Outcome{Kind: Failed, N: n, Err: fmt.Errorf("read: %w", rerr)}
	}
}

func clampBufferSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBufferSize
	case n < minBufferSize:
		return minBufferSize
	case n > maxBufferSize:
		return maxBufferSize
	}
	return n
}
