package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bazelment/tapestry/protocol"
	"github.com/bazelment/tapestry/toolspec"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadIdleTimeout  = 90 * time.Second
	wsWriteTimeout          = 10 * time.Second
)

// Hello is the first message sent after dialing. It identifies the client
// and advertises any locally registered tools so the backend can route
// their calls back over the stream.
type Hello struct {
	Type        string                    `json:"type"`
	Version     string                    `json:"version,omitempty"`
	ClientTools []toolspec.ToolDefinition `json:"client_tools,omitempty"`
}

// WSSource reads protocol frames from a live websocket stream. There is no
// reconnection: connection loss surfaces as an error from Next and the
// caller owns retry policy.
type WSSource struct {
	conn   *websocket.Conn
	logger *slog.Logger
	idle   time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type wsConfig struct {
	logger    *slog.Logger
	handshake time.Duration
	idle      time.Duration
	hello     *Hello
}

// WSOption configures a websocket dial.
type WSOption func(*wsConfig)

// WithWSLogger sets the logger used for skipped frames.
func WithWSLogger(logger *slog.Logger) WSOption {
	return func(c *wsConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) WSOption {
	return func(c *wsConfig) {
		if d > 0 {
			c.handshake = d
		}
	}
}

// WithReadIdleTimeout sets how long the connection may stay silent before
// a read fails. Pongs and data both refresh the deadline; the source pings
// often enough that a healthy connection never trips it.
func WithReadIdleTimeout(d time.Duration) WSOption {
	return func(c *wsConfig) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithHello sends the given hello payload immediately after the handshake.
func WithHello(h Hello) WSOption {
	return func(c *wsConfig) {
		c.hello = &h
	}
}

// DialWS connects to a frame stream endpoint.
func DialWS(ctx context.Context, url string, opts ...WSOption) (*WSSource, error) {
	cfg := wsConfig{
		logger:    slog.Default(),
		handshake: defaultHandshakeTimeout,
		idle:      defaultReadIdleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.handshake,
		NetDialContext:   (&net.Dialer{Timeout: cfg.handshake}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.idle))
		return nil
	})

	s := &WSSource{
		conn:   conn,
		logger: cfg.logger,
		idle:   cfg.idle,
		done:   make(chan struct{}),
	}

	if cfg.hello != nil {
		hello := *cfg.hello
		if hello.Type == "" {
			hello.Type = "hello"
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send hello: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Time{})
	}

	go s.pingLoop()
	return s, nil
}

// Next returns the next well-formed frame. A normal peer close maps to
// io.EOF; Close maps to ErrClosed. Cancellation takes effect between
// reads, so a stalled connection needs Close to unblock.
func (s *WSSource) Next(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))

		frame, perr := protocol.ParseFrame(data)
		if perr != nil {
			s.logger.Warn("skipping malformed frame", "err", perr)
			continue
		}
		return frame, nil
	}
}

// pingLoop keeps the read deadline alive on an otherwise quiet stream.
func (s *WSSource) pingLoop() {
	interval := s.idle / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
			if err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and tears down the connection, unblocking a
// pending Next.
func (s *WSSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
