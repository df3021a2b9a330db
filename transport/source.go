// Package transport provides ordered frame sources for a single session
// stream. A source hides where frames come from: a recorded NDJSON log, a
// growing log being written by another process, or a live websocket. All
// sources deliver frames in arrival order and report a clean stream end
// with io.EOF.
package transport

import (
	"context"
	"errors"

	"github.com/bazelment/tapestry/protocol"
)

// ErrClosed is returned by Next after the source has been closed.
var ErrClosed = errors.New("transport: source closed")

// Source delivers protocol frames in arrival order for one session stream.
//
// Next blocks until a frame is available, the stream ends (io.EOF), or the
// source is closed (ErrClosed). Sources that block in I/O rather than on
// ctx honor cancellation between reads; Close unblocks a pending read.
// Close is safe to call concurrently with Next and more than once.
type Source interface {
	Next(ctx context.Context) (protocol.Frame, error)
	Close() error
}
