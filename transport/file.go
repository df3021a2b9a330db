package transport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bazelment/tapestry/internal/ndjson"
	"github.com/bazelment/tapestry/protocol"
)

// FileSource replays protocol frames from an NDJSON stream, typically a
// recorded frame log. Lines that fail to parse as frames are skipped with
// a warning so one corrupt line does not abort a replay.
type FileSource struct {
	r      *ndjson.Reader
	closer io.Closer
	logger *slog.Logger
	name   string
	line   int
	closed atomic.Bool
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithFileLogger sets the logger used for skipped lines.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenFile opens an NDJSON frame log for replay from the beginning.
func OpenFile(path string, opts ...FileOption) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := NewFileSource(f, opts...)
	s.closer = f
	s.name = path
	return s, nil
}

// NewFileSource wraps an arbitrary NDJSON stream. If r implements
// io.Closer the source takes ownership and closes it on Close.
func NewFileSource(r io.Reader, opts ...FileOption) *FileSource {
	s := &FileSource{
		r:      ndjson.NewReader(r),
		logger: slog.Default(),
		name:   "stream",
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next well-formed frame, io.EOF at end of stream, or
// ErrClosed after Close.
func (s *FileSource) Next(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.r.ReadLine()
		if err != nil {
			if s.closed.Load() && err != io.EOF {
				return nil, ErrClosed
			}
			return nil, err
		}
		s.line++
		frame, err := protocol.ParseFrame(line)
		if err != nil {
			s.logger.Warn("skipping malformed frame line",
				"source", s.name, "line", s.line, "err", err)
			continue
		}
		return frame, nil
	}
}

// Close releases the underlying stream.
func (s *FileSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
