// Package session owns a live frame stream: it reads frames from a
// transport source, folds them into a transcript, and publishes coarse
// change events. Events are invalidation signals, not payloads; consumers
// re-read the session's snapshot accessors when one arrives, so a dropped
// event under backpressure costs a repaint, never correctness.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bazelment/tapestry/internal/ndjson"
	"github.com/bazelment/tapestry/protocol"
	"github.com/bazelment/tapestry/transcript"
	"github.com/bazelment/tapestry/transport"
)

// clientToolType marks tool calls the backend expects the client to run.
const clientToolType = "client"

// Session manages one reconstruction stream over a transport source.
type Session struct {
	src    transport.Source
	config Config

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	recorder *ndjson.Writer

	// tools tracks in-flight client tool handlers so the event channel
	// only closes after their results have been emitted.
	tools sync.WaitGroup

	mu           sync.RWMutex
	engine       *transcript.Engine
	generating   bool
	started      bool
	stopped      bool
	eventsClosed bool
}

// New creates a session over src. The session takes ownership of src and
// closes it when it stops.
func New(src transport.Source, opts ...Option) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	engineOpts := append([]transcript.Option{transcript.WithLogger(config.Logger)}, config.EngineOptions...)

	s := &Session{
		src:    src,
		config: config,
		engine: transcript.NewEngine(engineOpts...),
		events: make(chan Event, config.EventBufferSize),
		done:   make(chan struct{}),
	}
	if config.Recorder != nil {
		s.recorder = ndjson.NewWriter(config.Recorder)
	}
	return s
}

// Start begins reading frames. The event channel closes after the stream
// ends, the context is cancelled, or Stop is called; ClosedEvent is the
// last event delivered before the close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.readLoop(ctx)
	go func() {
		// Sources block in I/O, not on ctx; closing is what unblocks them.
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		if err := s.src.Close(); err != nil {
			s.config.Logger.Debug("source close", "err", err)
		}
	}()
	return nil
}

// Events returns a read-only channel for receiving events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Messages returns a point-in-time copy of the transcript.
func (s *Session) Messages() []transcript.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Messages()
}

// Generating reports whether the backend is mid-generation.
func (s *Session) Generating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}

// ToolStatus derives the execution status of one tool call from the
// current transcript.
func (s *Session) ToolStatus(toolUseID string) transcript.ToolStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transcript.ResolveToolStatus(toolUseID, s.engine.Messages())
}

// ToolStatuses derives the execution status of several tool calls in one
// transcript pass.
func (s *Session) ToolStatuses(toolUseIDs []string) map[string]transcript.ToolStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transcript.ResolveToolStatuses(toolUseIDs, s.engine.Messages())
}

// EndTurn clears the generating flag. The frame stream marks when
// generation starts but not when a turn is over; the surrounding
// application signals that through this method.
func (s *Session) EndTurn() {
	s.mu.Lock()
	changed := s.generating
	s.generating = false
	s.mu.Unlock()

	if changed {
		s.emit(GeneratingEvent{Generating: false})
	}
}

// Stop shuts the session down. It is safe to call more than once and
// before Start.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	if !started && !s.eventsClosed {
		// No read loop owns the channel, so close it here.
		s.eventsClosed = true
		close(s.events)
	}
	s.mu.Unlock()

	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	if !started {
		return s.src.Close()
	}
	return nil
}

// readLoop consumes the source until it ends, then waits for in-flight
// client tools and publishes the terminal events.
func (s *Session) readLoop(ctx context.Context) {
	err := s.consume(ctx)
	s.tools.Wait()
	s.finish(err)
}

func (s *Session) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if s.isStopped() {
				return nil
			}
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		frame, err := s.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed), s.isStopped():
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}
		s.handleFrame(ctx, frame)
	}
}

// handleFrame records, applies, and publishes one frame.
func (s *Session) handleFrame(ctx context.Context, frame protocol.Frame) {
	s.record(frame)

	s.mu.Lock()
	outcome := s.engine.Apply(frame)
	startedGenerating := false
	if outcome.Generating == transcript.GeneratingActive && !s.generating {
		s.generating = true
		startedGenerating = true
	}
	var completed protocol.ToolUseBlock
	var dispatch bool
	if f, ok := frame.(protocol.ToolCompleteFrame); ok && s.config.ClientTools != nil {
		completed, dispatch = findToolUse(s.engine.Messages(), f.ToolID)
	}
	s.mu.Unlock()

	if f, ok := frame.(protocol.ErrorFrame); ok {
		s.emit(StreamErrorEvent{Err: errors.New(f.Message), Context: "frame"})
	}
	if outcome.Changed {
		s.emit(TranscriptEvent{})
	}
	if startedGenerating {
		s.emit(GeneratingEvent{Generating: true})
	}
	if dispatch {
		s.dispatchClientTool(ctx, completed)
	}
}

// record appends the frame to the configured NDJSON log. A failed write
// disables recording for the rest of the session.
func (s *Session) record(frame protocol.Frame) {
	if s.recorder == nil {
		return
	}
	data, err := protocol.MarshalFrame(frame)
	if err == nil {
		err = s.recorder.WriteRaw(data)
	}
	if err != nil {
		s.recorder = nil
		s.config.Logger.Warn("frame recorder failed, disabling", "err", err)
		s.emit(StreamErrorEvent{Err: err, Context: "record"})
	}
}

// dispatchClientTool runs a registered client tool off the read loop and
// emits its result. The backend only learns the outcome through whatever
// the application does with the ClientToolEvent; this session is a
// read-side reconstruction, not a command channel.
func (s *Session) dispatchClientTool(ctx context.Context, block protocol.ToolUseBlock) {
	reg := s.config.ClientTools
	if block.ToolType != clientToolType || !reg.Has(block.Name) {
		return
	}

	s.tools.Add(1)
	go func() {
		defer s.tools.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("client tool %s panicked: %v", block.Name, r)
				s.config.Logger.Error("client tool panic", "tool", block.Name, "panic", r)
				s.emit(StreamErrorEvent{Err: err, Context: "client_tool"})
			}
		}()

		args, err := json.Marshal(block.Input)
		if err != nil {
			s.emit(StreamErrorEvent{Err: fmt.Errorf("encode input for %s: %w", block.Name, err), Context: "client_tool"})
			return
		}
		result, err := reg.Invoke(ctx, block.Name, args)
		if err != nil {
			s.emit(StreamErrorEvent{Err: err, Context: "client_tool"})
			return
		}
		s.emit(ClientToolEvent{ToolID: block.ID, Name: block.Name, Result: result})
	}()
}

// finish publishes the terminal events and closes the event channel. It
// runs exactly once, as the read loop's last act.
func (s *Session) finish(err error) {
	s.mu.Lock()
	wasGenerating := s.generating
	s.generating = false
	s.mu.Unlock()

	if wasGenerating {
		s.emit(GeneratingEvent{Generating: false})
	}

	// The close event skips the done guard so a consumer draining the
	// channel after Stop still sees the close reason.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ClosedEvent{Err: err}:
	default:
		s.config.Logger.Debug("event buffer full, dropping close event")
	}
	s.eventsClosed = true
	close(s.events)
}

// emit sends an event to the events channel. Sends hold the read lock so
// they cannot race the channel close in finish or Stop.
func (s *Session) emit(event Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Channel full, drop event
	}
}

// isStopped returns whether the session has been stopped.
func (s *Session) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// findToolUse scans the transcript from the tail for the tool_use block
// with the given id.
func findToolUse(messages []transcript.Message, toolID string) (protocol.ToolUseBlock, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, block := range messages[i].Content {
			if tool, ok := block.(protocol.ToolUseBlock); ok && tool.ID == toolID {
				return tool, true
			}
		}
	}
	return protocol.ToolUseBlock{}, false
}
