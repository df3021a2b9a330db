package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bazelment/tapestry/protocol"
)

const (
	// defaultPollInterval bounds how long a follower waits when a watch
	// event is missed. inotify drops events under pressure, so the poll is
	// the correctness backstop and the watcher is the latency path.
	defaultPollInterval = 500 * time.Millisecond

	// maxFollowLine caps an unterminated line before the follower gives up
	// on the stream. Matches the ndjson reader ceiling.
	maxFollowLine = 10 * 1024 * 1024
)

// FollowSource tails a growing NDJSON frame log: it replays the file from
// the beginning and then waits for appended lines instead of returning
// io.EOF. Only newline-terminated lines are yielded, so a writer caught
// mid-line never produces a mangled frame.
type FollowSource struct {
	f       *os.File
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	poll    time.Duration
	name    string

	buf     []byte
	pending [][]byte
	line    int

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// FollowOption configures a FollowSource.
type FollowOption func(*FollowSource)

// WithFollowLogger sets the logger used for skipped lines and watch errors.
func WithFollowLogger(logger *slog.Logger) FollowOption {
	return func(s *FollowSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval sets the fallback poll interval used while waiting for
// the file to grow.
func WithPollInterval(d time.Duration) FollowOption {
	return func(s *FollowSource) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Follow opens a frame log for tailing. The file must already exist; the
// writer may still be appending to it.
func Follow(path string, opts ...FollowOption) (*FollowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return nil, err
	}
	s := &FollowSource{
		f:       f,
		watcher: watcher,
		logger:  slog.Default(),
		poll:    defaultPollInterval,
		name:    path,
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the next well-formed frame, blocking at end of file until
// more lines are appended. It returns ErrClosed after Close and the ctx
// error on cancellation.
func (s *FollowSource) Next(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-s.closed:
			return nil, ErrClosed
		default:
		}

		if line, ok := s.takeLine(); ok {
			s.line++
			frame, err := protocol.ParseFrame(line)
			if err != nil {
				s.logger.Warn("skipping malformed frame line",
					"source", s.name, "line", s.line, "err", err)
				continue
			}
			return frame, nil
		}

		err := s.fill()
		if err == nil {
			continue
		}
		if err != io.EOF {
			return nil, err
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// takeLine pops the next buffered complete line.
func (s *FollowSource) takeLine() ([]byte, bool) {
	for len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, true
	}
	return nil, false
}

// fill reads whatever the file has past our position and splits complete
// lines out of the accumulation buffer. Returns io.EOF when the file has
// not grown.
func (s *FollowSource) fill() error {
	chunk := make([]byte, 64*1024)
	n, err := s.f.Read(chunk)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
		s.splitBuffered()
		if len(s.buf) > maxFollowLine {
			return io.ErrShortBuffer
		}
		return nil
	}
	return err
}

// splitBuffered moves newline-terminated lines from buf to pending. A
// trailing partial line stays in buf until its newline arrives.
func (s *FollowSource) splitBuffered() {
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimSpace(s.buf[:i])
		if len(line) > 0 {
			s.pending = append(s.pending, append([]byte(nil), line...))
		}
		s.buf = append(s.buf[:0], s.buf[i+1:]...)
	}
}

// wait blocks until the file changes, the poll interval lapses, ctx is
// done, or the source is closed.
func (s *FollowSource) wait(ctx context.Context) error {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	case _, ok := <-s.watcher.Events:
		if !ok {
			return ErrClosed
		}
		return nil
	case err, ok := <-s.watcher.Errors:
		if !ok {
			return ErrClosed
		}
		s.logger.Warn("file watch error", "source", s.name, "err", err)
		return nil
	case <-timer.C:
		return nil
	}
}

// Close stops the watcher and releases the file, unblocking a pending Next.
func (s *FollowSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.watcher.Close()
		if err := s.f.Close(); s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
