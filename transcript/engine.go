// Package transcript reconstructs a conversation from streaming protocol
// frames. The Engine consumes frames one at a time and maintains an ordered
// message list that grows append-only: closed messages never change, and
// only the open assistant message at the tail absorbs deltas and tool
// lifecycle updates. Tool execution status is not stored; it is derived on
// demand by scanning the transcript for matching tool results.
package transcript

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/bazelment/tapestry/protocol"
)

// GeneratingHint tells the caller what a frame implied about whether the
// backend is still producing output.
type GeneratingHint int

const (
	// GeneratingUnchanged means the frame carried no signal either way.
	GeneratingUnchanged GeneratingHint = iota
	// GeneratingActive means the backend is mid-generation.
	GeneratingActive
)

// Outcome reports what applying a single frame did.
type Outcome struct {
	// Changed is true when the message list or any message content changed.
	Changed bool
	// Generating hints at the backend's generation state.
	Generating GeneratingHint
}

// Engine folds protocol frames into a transcript. It is not safe for
// concurrent use; callers serialize Apply and take snapshots via Messages.
type Engine struct {
	messages []Message

	// inputBufs accumulates streamed tool input fragments per tool id.
	// Buffers live from tool_start until tool_complete or message_complete.
	inputBufs map[string]*strings.Builder
	// overflowed marks tool ids whose input hit maxToolInputBytes; further
	// fragments for them are dropped without re-logging.
	overflowed map[string]bool

	logger            *slog.Logger
	maxToolInputBytes int
	recordErrorFrames bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for dropped and malformed frames.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxToolInputBytes caps how many bytes of streamed tool input the
// engine accumulates per tool call. Zero means unbounded. Fragments past
// the cap are dropped; the authoritative input on tool_complete still
// applies.
func WithMaxToolInputBytes(n int) Option {
	return func(e *Engine) { e.maxToolInputBytes = n }
}

// WithRecordErrorFrames makes error frames append a system message to the
// transcript instead of only being logged.
func WithRecordErrorFrames(record bool) Option {
	return func(e *Engine) { e.recordErrorFrames = record }
}

// NewEngine returns an empty transcript engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		inputBufs:  make(map[string]*strings.Builder),
		overflowed: make(map[string]bool),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Messages returns a snapshot of the transcript. The returned slice is
// owned by the caller; the engine swaps in new content slices on mutation
// rather than editing shared ones, so previously returned snapshots stay
// stable as more frames arrive.
func (e *Engine) Messages() []Message {
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (e *Engine) Len() int { return len(e.messages) }

// Apply folds one frame into the transcript. Malformed or dangling frames
// never return an error; they are logged and leave the transcript intact.
func (e *Engine) Apply(frame protocol.Frame) Outcome {
	switch f := frame.(type) {
	case protocol.MessageStartFrame:
		return e.applyMessageStart(f)
	case protocol.TextDeltaFrame:
		return e.applyDelta(protocol.ContentBlockTypeText, f.Text)
	case protocol.ThinkingDeltaFrame:
		return e.applyDelta(protocol.ContentBlockTypeThinking, f.Thinking)
	case protocol.ToolStartFrame:
		return e.applyToolStart(f)
	case protocol.ToolProgressFrame:
		return e.applyToolProgress(f)
	case protocol.ToolCompleteFrame:
		return e.applyToolComplete(f)
	case protocol.MessageCompleteFrame:
		return e.applyMessageComplete(f)
	case protocol.UserFrame:
		return e.applyUser(f)
	case protocol.AssistantFrame:
		// Full assistant snapshots duplicate what the streaming frames
		// already built, so they are acknowledged but not applied.
		e.logger.Debug("skipping assistant snapshot frame", "blocks", len(f.Content))
		return Outcome{}
	case protocol.ErrorFrame:
		return e.applyError(f)
	case protocol.UnknownFrame:
		e.logger.Warn("skipping unknown frame type", "type", string(f.Type))
		return Outcome{}
	case nil:
		e.logger.Warn("skipping nil frame")
		return Outcome{}
	default:
		e.logger.Warn("skipping unhandled frame", "type", string(frame.FrameType()))
		return Outcome{}
	}
}

// applyMessageStart reconciles the backend-assigned message id with the
// open assistant message, reusing a placeholder or semantically empty tail
// when possible and appending a new message otherwise.
func (e *Engine) applyMessageStart(f protocol.MessageStartFrame) Outcome {
	if idx, ok := e.openAssistantIndex(); ok {
		msg := e.messages[idx]
		switch {
		case msg.IsPlaceholder():
			msg.ID = e.uniqueID(f.MessageID, idx)
			msg.Content = mergeStartContent(msg.Content, f.Content)
			e.messages[idx] = msg
			return Outcome{Changed: true, Generating: GeneratingActive}
		case msg.isSemanticallyEmpty():
			msg.ID = e.uniqueID(f.MessageID, idx)
			if len(f.Content) > 0 {
				msg.Content = cloneBlocks(f.Content)
			}
			e.messages[idx] = msg
			return Outcome{Changed: true, Generating: GeneratingActive}
		}
	}
	e.messages = append(e.messages, Message{
		ID:        e.uniqueID(f.MessageID, -1),
		Role:      RoleAssistant,
		Content:   cloneBlocks(f.Content),
		Timestamp: time.Now(),
	})
	return Outcome{Changed: true, Generating: GeneratingActive}
}

// mergeStartContent keeps locally accumulated blocks and adds event blocks
// after them, skipping text and thinking blocks whose kind is already
// present so streamed-ahead deltas are not duplicated.
func mergeStartContent(local []protocol.ContentBlock, event protocol.ContentBlocks) []protocol.ContentBlock {
	merged := cloneBlocks(local)
	for _, block := range event {
		kind := block.BlockType()
		streamed := kind == protocol.ContentBlockTypeText || kind == protocol.ContentBlockTypeThinking
		if streamed && hasBlockOfKind(merged, kind) {
			continue
		}
		merged = append(merged, block)
	}
	return merged
}

// applyDelta appends a streamed fragment to the most recent block of the
// given kind in the open assistant message, creating the message or the
// block as needed. Empty fragments are dropped.
func (e *Engine) applyDelta(kind protocol.ContentBlockType, payload string) Outcome {
	if payload == "" {
		return Outcome{}
	}
	idx := e.ensureOpenAssistant()
	msg := e.messages[idx]
	msg.Content = appendFragment(msg.Content, kind, payload)
	e.messages[idx] = msg
	return Outcome{Changed: true, Generating: GeneratingActive}
}

// appendFragment extends the last block of the given kind, or appends a new
// block when none exists. It always returns a freshly built slice so
// snapshots taken earlier never observe in-place edits.
func appendFragment(blocks []protocol.ContentBlock, kind protocol.ContentBlockType, payload string) []protocol.ContentBlock {
	out := cloneBlocks(blocks)
	for i := len(out) - 1; i >= 0; i-- {
		switch block := out[i].(type) {
		case protocol.TextBlock:
			if kind == protocol.ContentBlockTypeText {
				block.Text += payload
				out[i] = block
				return out
			}
		case protocol.ThinkingBlock:
			if kind == protocol.ContentBlockTypeThinking {
				block.Thinking += payload
				out[i] = block
				return out
			}
		}
	}
	switch kind {
	case protocol.ContentBlockTypeText:
		out = append(out, protocol.TextBlock{Type: kind, Text: payload})
	case protocol.ContentBlockTypeThinking:
		out = append(out, protocol.ThinkingBlock{Type: kind, Thinking: payload})
	}
	return out
}

// applyToolStart appends a tool_use block with empty input to the open
// assistant message and opens an input accumulator for the tool id. A
// duplicate start for an id already present is a no-op.
func (e *Engine) applyToolStart(f protocol.ToolStartFrame) Outcome {
	idx := e.ensureOpenAssistant()
	msg := e.messages[idx]
	if _, found := findToolUse(msg.Content, f.ToolID); found {
		e.logger.Debug("duplicate tool_start", "tool_id", f.ToolID)
		return Outcome{Generating: GeneratingActive}
	}
	block := protocol.ToolUseBlock{
		Type:     protocol.ContentBlockTypeToolUse,
		ID:       f.ToolID,
		Name:     f.ToolName,
		ToolType: f.ToolType,
		Input:    map[string]any{},
	}
	msg.Content = append(cloneBlocks(msg.Content), block)
	e.messages[idx] = msg
	e.inputBufs[f.ToolID] = &strings.Builder{}
	return Outcome{Changed: true, Generating: GeneratingActive}
}

// applyToolProgress appends an input fragment to the tool's accumulator and
// re-parses the whole accumulation. Until the accumulation parses as a JSON
// object the block keeps its previous input; once it parses, the parsed
// object replaces the input wholesale.
func (e *Engine) applyToolProgress(f protocol.ToolProgressFrame) Outcome {
	msgIdx, blockIdx, found := e.findOpenToolUse(f.ToolID)
	if !found {
		e.logger.Warn("tool_progress for unknown tool call", "tool_id", f.ToolID)
		return Outcome{Generating: GeneratingActive}
	}
	buf := e.inputBufs[f.ToolID]
	if buf == nil {
		// The block came in on a message_start snapshot rather than a
		// tool_start frame; open an accumulator for it now.
		buf = &strings.Builder{}
		e.inputBufs[f.ToolID] = buf
	}
	if e.maxToolInputBytes > 0 && buf.Len()+len(f.OutputPreview) > e.maxToolInputBytes {
		if !e.overflowed[f.ToolID] {
			e.overflowed[f.ToolID] = true
			e.logger.Warn("tool input exceeds accumulation cap, dropping fragments",
				"tool_id", f.ToolID, "cap_bytes", e.maxToolInputBytes)
		}
		return Outcome{Generating: GeneratingActive}
	}
	buf.WriteString(f.OutputPreview)

	var input map[string]any
	if err := json.Unmarshal([]byte(buf.String()), &input); err != nil || input == nil {
		// Not a complete JSON object yet; keep accumulating.
		return Outcome{Generating: GeneratingActive}
	}
	e.setToolInput(msgIdx, blockIdx, input)
	return Outcome{Changed: true, Generating: GeneratingActive}
}

// applyToolComplete replaces the tool's input with the authoritative value
// from the completion payload, when one is present, and drops the input
// accumulator for the id.
func (e *Engine) applyToolComplete(f protocol.ToolCompleteFrame) Outcome {
	delete(e.inputBufs, f.ToolID)
	delete(e.overflowed, f.ToolID)

	msgIdx, blockIdx, found := e.findOpenToolUse(f.ToolID)
	if !found {
		e.logger.Warn("tool_complete for unknown tool call", "tool_id", f.ToolID)
		return Outcome{Generating: GeneratingActive}
	}
	input, ok := completionInput(f.Result)
	if !ok {
		return Outcome{Generating: GeneratingActive}
	}
	e.setToolInput(msgIdx, blockIdx, input)
	return Outcome{Changed: true, Generating: GeneratingActive}
}

// completionInput extracts the tool_use shaped input object from a
// completion payload. Payloads without an input object leave the streamed
// input in place.
func completionInput(result json.RawMessage) (map[string]any, bool) {
	if len(result) == 0 {
		return nil, false
	}
	var shaped struct {
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal(result, &shaped); err != nil || shaped.Input == nil {
		return nil, false
	}
	return shaped.Input, true
}

// applyMessageComplete stamps usage onto the open assistant message and
// drops all pending input accumulators. The message itself stays in place;
// it is closed implicitly by whatever message follows it.
func (e *Engine) applyMessageComplete(f protocol.MessageCompleteFrame) Outcome {
	e.clearInputBuffers()
	idx, ok := e.openAssistantIndex()
	if !ok {
		e.logger.Debug("message_complete with no open assistant message")
		return Outcome{}
	}
	msg := e.messages[idx]
	msg.Timestamp = time.Now()
	if f.Usage != nil {
		usage := *f.Usage
		msg.Usage = &usage
	}
	e.messages[idx] = msg
	return Outcome{Changed: true}
}

// applyUser appends a user message, closing any open assistant message
// above it. Replayed frames keep their replay mark; live frames whose first
// text block opens with the continuation marker are flagged as compaction
// summaries.
func (e *Engine) applyUser(f protocol.UserFrame) Outcome {
	msg := Message{
		ID:        newLocalID(RoleUser),
		Role:      RoleUser,
		Content:   cloneBlocks(f.Content),
		Timestamp: time.Now(),
		IsReplay:  f.IsReplay,
	}
	if !f.IsReplay {
		if text, ok := firstTextBlock(msg.Content); ok && strings.HasPrefix(text, compactSummaryMarker) {
			msg.IsCompactSummary = true
		}
	}
	e.messages = append(e.messages, msg)
	return Outcome{Changed: true}
}

// applyError logs the error and, when configured, records it as a system
// message so the failure stays visible in the transcript.
func (e *Engine) applyError(f protocol.ErrorFrame) Outcome {
	e.logger.Warn("stream error frame", "message", f.Message)
	if !e.recordErrorFrames {
		return Outcome{}
	}
	e.messages = append(e.messages, Message{
		ID:   newLocalID(RoleSystem),
		Role: RoleSystem,
		Content: []protocol.ContentBlock{
			protocol.ErrorBlock{Type: protocol.ContentBlockTypeError, Message: f.Message},
		},
		Timestamp: time.Now(),
	})
	return Outcome{Changed: true}
}

// openAssistantIndex returns the index of the open assistant message. Only
// the transcript tail can be open; anything above it is immutable.
func (e *Engine) openAssistantIndex() (int, bool) {
	idx := len(e.messages) - 1
	if idx < 0 || e.messages[idx].Role != RoleAssistant {
		return 0, false
	}
	return idx, true
}

// ensureOpenAssistant returns the open assistant message index, appending a
// placeholder when the tail is closed. Deltas and tool starts arriving
// before message_start land in the placeholder and are reconciled later.
func (e *Engine) ensureOpenAssistant() int {
	if idx, ok := e.openAssistantIndex(); ok {
		return idx
	}
	e.messages = append(e.messages, Message{
		ID:        newLocalID(RoleAssistant),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	})
	return len(e.messages) - 1
}

// findOpenToolUse locates a tool_use block by id within the open assistant
// message. Closed messages are never candidates; their tool calls are done.
func (e *Engine) findOpenToolUse(toolID string) (msgIdx, blockIdx int, found bool) {
	idx, ok := e.openAssistantIndex()
	if !ok {
		return 0, 0, false
	}
	blockIdx, found = findToolUse(e.messages[idx].Content, toolID)
	return idx, blockIdx, found
}

// findToolUse scans blocks from the tail for a tool_use with the given id.
func findToolUse(blocks []protocol.ContentBlock, toolID string) (int, bool) {
	for i := len(blocks) - 1; i >= 0; i-- {
		if tool, ok := blocks[i].(protocol.ToolUseBlock); ok && tool.ID == toolID {
			return i, true
		}
	}
	return 0, false
}

// setToolInput swaps the block's input for the given object, rebuilding the
// content slice so earlier snapshots stay untouched.
func (e *Engine) setToolInput(msgIdx, blockIdx int, input map[string]any) {
	msg := e.messages[msgIdx]
	content := cloneBlocks(msg.Content)
	block := content[blockIdx].(protocol.ToolUseBlock)
	block.Input = input
	content[blockIdx] = block
	msg.Content = content
	e.messages[msgIdx] = msg
}

// uniqueID returns the backend id, suffixed with random hex while it
// collides with any other message in the transcript. selfIdx exempts the
// message being renamed; -1 checks against every message. An empty backend
// id falls back to a locally generated one.
func (e *Engine) uniqueID(candidate string, selfIdx int) string {
	if candidate == "" {
		candidate = newLocalID(RoleAssistant)
	}
	id := candidate
	for e.idTaken(id, selfIdx) {
		id = candidate + "-" + randomHex(2)
	}
	return id
}

func (e *Engine) idTaken(id string, selfIdx int) bool {
	for i := range e.messages {
		if i != selfIdx && e.messages[i].ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) clearInputBuffers() {
	clear(e.inputBufs)
	clear(e.overflowed)
}
