// Package protocol defines the logical frame vocabulary a streaming agent
// backend emits for one session, independent of the physical transport.
// Frames arrive one at a time, in emit order, as NDJSON lines or websocket
// text messages; ParseFrame turns a line into a typed frame.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates protocol frame kinds.
type FrameType string

const (
	FrameTypeMessageStart    FrameType = "message_start"
	FrameTypeTextDelta       FrameType = "text_delta"
	FrameTypeThinkingDelta   FrameType = "thinking_delta"
	FrameTypeToolStart       FrameType = "tool_start"
	FrameTypeToolProgress    FrameType = "tool_progress"
	FrameTypeToolComplete    FrameType = "tool_complete"
	FrameTypeMessageComplete FrameType = "message_complete"
	FrameTypeUser            FrameType = "user"
	FrameTypeAssistant       FrameType = "assistant"
	FrameTypeError           FrameType = "error"
)

// Frame is the interface for frame discrimination.
type Frame interface {
	FrameType() FrameType
}

// MessageStartFrame announces a new assistant message and its server id.
// Content is optional; deltas may have arrived before this frame.
// Example: {"type":"message_start","message_id":"msg_01abc","content":[{"type":"text","text":""}]}
type MessageStartFrame struct {
	Type      FrameType     `json:"type"`
	MessageID string        `json:"message_id"`
	Content   ContentBlocks `json:"content,omitempty"`
}

// FrameType returns the frame type.
func (f MessageStartFrame) FrameType() FrameType { return FrameTypeMessageStart }

// TextDeltaFrame appends text to the open assistant message.
type TextDeltaFrame struct {
	Type FrameType `json:"type"`
	Text string    `json:"text"`
}

// FrameType returns the frame type.
func (f TextDeltaFrame) FrameType() FrameType { return FrameTypeTextDelta }

// ThinkingDeltaFrame appends reasoning text to the open assistant message.
type ThinkingDeltaFrame struct {
	Type     FrameType `json:"type"`
	Thinking string    `json:"thinking"`
}

// FrameType returns the frame type.
func (f ThinkingDeltaFrame) FrameType() FrameType { return FrameTypeThinkingDelta }

// ToolStartFrame opens a tool call.
// Example: {"type":"tool_start","tool_id":"tool_1","tool_name":"Read","tool_type":"builtin"}
type ToolStartFrame struct {
	Type     FrameType `json:"type"`
	ToolID   string    `json:"tool_id"`
	ToolName string    `json:"tool_name"`
	ToolType string    `json:"tool_type,omitempty"`
}

// FrameType returns the frame type.
func (f ToolStartFrame) FrameType() FrameType { return FrameTypeToolStart }

// ToolProgressFrame streams a fragment of the tool call's input JSON.
// Fragments concatenate into a JSON document; boundaries are arbitrary.
type ToolProgressFrame struct {
	Type          FrameType `json:"type"`
	ToolID        string    `json:"tool_id"`
	OutputPreview string    `json:"output_preview"`
}

// FrameType returns the frame type.
func (f ToolProgressFrame) FrameType() FrameType { return FrameTypeToolProgress }

// ToolCompleteFrame finalizes a tool call's input. Result may carry an
// authoritative input object that supersedes fragment assembly; the call's
// outcome still arrives separately as a tool_result block in a user frame.
type ToolCompleteFrame struct {
	Type   FrameType       `json:"type"`
	ToolID string          `json:"tool_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// FrameType returns the frame type.
func (f ToolCompleteFrame) FrameType() FrameType { return FrameTypeToolComplete }

// MessageCompleteFrame closes the open assistant message.
type MessageCompleteFrame struct {
	Type  FrameType `json:"type"`
	Usage *Usage    `json:"usage,omitempty"`
}

// FrameType returns the frame type.
func (f MessageCompleteFrame) FrameType() FrameType { return FrameTypeMessageComplete }

// UserFrame is a full user-role message snapshot: the initial prompt, a
// tool_result carrier, or a replayed/compaction message.
type UserFrame struct {
	Type     FrameType     `json:"type"`
	Content  ContentBlocks `json:"content"`
	IsReplay bool          `json:"is_replay,omitempty"`
}

// FrameType returns the frame type.
func (f UserFrame) FrameType() FrameType { return FrameTypeUser }

// AssistantFrame is a full assistant-message snapshot sent after streaming,
// used as a verification hook only.
type AssistantFrame struct {
	Type    FrameType     `json:"type"`
	Content ContentBlocks `json:"content"`
}

// FrameType returns the frame type.
func (f AssistantFrame) FrameType() FrameType { return FrameTypeAssistant }

// ErrorFrame reports a protocol-level error for the session.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

// FrameType returns the frame type.
func (f ErrorFrame) FrameType() FrameType { return FrameTypeError }

// UnknownFrame preserves a frame whose type this package does not model.
type UnknownFrame struct {
	Type FrameType
	Raw  json.RawMessage
}

// FrameType returns the frame type.
func (f UnknownFrame) FrameType() FrameType { return f.Type }

// MarshalFrame encodes a frame as a single JSON document, normalizing the
// type discriminator so hand-constructed frames round-trip through
// ParseFrame. UnknownFrame marshals back to its preserved payload.
func MarshalFrame(frame Frame) ([]byte, error) {
	switch f := frame.(type) {
	case MessageStartFrame:
		f.Type = FrameTypeMessageStart
		return json.Marshal(f)
	case TextDeltaFrame:
		f.Type = FrameTypeTextDelta
		return json.Marshal(f)
	case ThinkingDeltaFrame:
		f.Type = FrameTypeThinkingDelta
		return json.Marshal(f)
	case ToolStartFrame:
		f.Type = FrameTypeToolStart
		return json.Marshal(f)
	case ToolProgressFrame:
		f.Type = FrameTypeToolProgress
		return json.Marshal(f)
	case ToolCompleteFrame:
		f.Type = FrameTypeToolComplete
		return json.Marshal(f)
	case MessageCompleteFrame:
		f.Type = FrameTypeMessageComplete
		return json.Marshal(f)
	case UserFrame:
		f.Type = FrameTypeUser
		return json.Marshal(f)
	case AssistantFrame:
		f.Type = FrameTypeAssistant
		return json.Marshal(f)
	case ErrorFrame:
		f.Type = FrameTypeError
		return json.Marshal(f)
	case UnknownFrame:
		if len(f.Raw) > 0 {
			return f.Raw, nil
		}
		return json.Marshal(struct {
			Type FrameType `json:"type"`
		}{f.Type})
	case nil:
		return nil, fmt.Errorf("marshal nil frame")
	default:
		return nil, fmt.Errorf("marshal unsupported frame type %T", frame)
	}
}

// ParseFrame parses a raw line into a typed frame. An unrecognized type is
// not an error; it comes back as UnknownFrame so the caller can decide how
// to log or ignore it. Malformed JSON is an error.
func ParseFrame(line []byte) (Frame, error) {
	var base struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, fmt.Errorf("parse frame type: %w", err)
	}

	switch base.Type {
	case FrameTypeMessageStart:
		var f MessageStartFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse message_start frame: %w", err)
		}
		return f, nil
	case FrameTypeTextDelta:
		var f TextDeltaFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse text_delta frame: %w", err)
		}
		return f, nil
	case FrameTypeThinkingDelta:
		var f ThinkingDeltaFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse thinking_delta frame: %w", err)
		}
		return f, nil
	case FrameTypeToolStart:
		var f ToolStartFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse tool_start frame: %w", err)
		}
		return f, nil
	case FrameTypeToolProgress:
		var f ToolProgressFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse tool_progress frame: %w", err)
		}
		return f, nil
	case FrameTypeToolComplete:
		var f ToolCompleteFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse tool_complete frame: %w", err)
		}
		return f, nil
	case FrameTypeMessageComplete:
		var f MessageCompleteFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse message_complete frame: %w", err)
		}
		return f, nil
	case FrameTypeUser:
		var f UserFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse user frame: %w", err)
		}
		return f, nil
	case FrameTypeAssistant:
		var f AssistantFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse assistant frame: %w", err)
		}
		return f, nil
	case FrameTypeError:
		var f ErrorFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("parse error frame: %w", err)
		}
		return f, nil
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return UnknownFrame{Type: base.Type, Raw: raw}, nil
	}
}
