package session

import "github.com/bazelment/tapestry/toolspec"

// EventType discriminates between event kinds.
type EventType int

const (
	// EventTypeTranscript fires when the transcript changed.
	EventTypeTranscript EventType = iota
	// EventTypeGenerating fires when the generation state flips.
	EventTypeGenerating
	// EventTypeStreamError fires on non-fatal stream errors.
	EventTypeStreamError
	// EventTypeClientTool fires when a locally registered tool finishes.
	EventTypeClientTool
	// EventTypeClosed fires once, right before the event channel closes.
	EventTypeClosed
)

// Event is the interface for all session events.
type Event interface {
	Type() EventType
}

// TranscriptEvent signals that the transcript grew or an open message
// changed. It carries no payload; consumers re-read Session.Messages.
type TranscriptEvent struct{}

// Type returns the event type.
func (e TranscriptEvent) Type() EventType { return EventTypeTranscript }

// GeneratingEvent reports a change in the backend generation state.
type GeneratingEvent struct {
	Generating bool
}

// Type returns the event type.
func (e GeneratingEvent) Type() EventType { return EventTypeGenerating }

// StreamErrorEvent reports an error the session survived: an error frame
// on the stream, a recorder write failure, or a client tool failure. The
// session keeps reading after emitting one.
type StreamErrorEvent struct {
	Err     error
	Context string
}

// Type returns the event type.
func (e StreamErrorEvent) Type() EventType { return EventTypeStreamError }

// ClientToolEvent carries the result of a locally executed client tool.
type ClientToolEvent struct {
	Result *toolspec.Result
	ToolID string
	Name   string
}

// Type returns the event type.
func (e ClientToolEvent) Type() EventType { return EventTypeClientTool }

// ClosedEvent is the final event before the channel closes. Err is nil
// when the stream ended cleanly or the consumer stopped the session.
type ClosedEvent struct {
	Err error
}

// Type returns the event type.
func (e ClosedEvent) Type() EventType { return EventTypeClosed }
