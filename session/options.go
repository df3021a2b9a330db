package session

import (
	"io"
	"log/slog"

	"github.com/bazelment/tapestry/toolspec"
	"github.com/bazelment/tapestry/transcript"
)

// Config holds session configuration.
type Config struct {
	Logger          *slog.Logger
	EngineOptions   []transcript.Option
	Recorder        io.Writer
	ClientTools     *toolspec.Registry
	EventBufferSize int
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithEngineOptions passes options through to the transcript engine.
func WithEngineOptions(opts ...transcript.Option) Option {
	return func(c *Config) {
		c.EngineOptions = append(c.EngineOptions, opts...)
	}
}

// WithRecorder appends every consumed frame to w as NDJSON, producing a
// log that FileSource can replay. Write failures disable the recorder for
// the rest of the session.
func WithRecorder(w io.Writer) Option {
	return func(c *Config) {
		c.Recorder = w
	}
}

// WithClientTools enables local execution of tools the backend marks as
// client-run. When a tool_complete frame finalizes the input of a
// registered client tool, the session invokes its handler and emits a
// ClientToolEvent with the result.
func WithClientTools(reg *toolspec.Registry) Option {
	return func(c *Config) {
		c.ClientTools = reg
	}
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBufferSize = n
		}
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:          slog.Default(),
		EventBufferSize: 100,
	}
}
