package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/tapestry/protocol"
)

// apply runs a sequence of frames through the engine.
func apply(e *Engine, frames ...protocol.Frame) {
	for _, f := range frames {
		e.Apply(f)
	}
}

// toolBlockAt returns the tool_use block at the given position or fails.
func toolBlockAt(t *testing.T, msg Message, idx int) protocol.ToolUseBlock {
	t.Helper()
	require.Less(t, idx, len(msg.Content))
	block, ok := msg.Content[idx].(protocol.ToolUseBlock)
	require.True(t, ok, "block %d is %T, want ToolUseBlock", idx, msg.Content[idx])
	return block
}

// --- Delta application -------------------------------------------------------

func TestEngine_DeltaOrdering(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_abc"},
		protocol.TextDeltaFrame{Text: "Hello"},
		protocol.TextDeltaFrame{Text: " world"},
		protocol.MessageCompleteFrame{},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg_abc", msgs[0].ID)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	text, ok := msgs[0].Content[0].(protocol.TextBlock)
	require.True(t, ok)
	assert.Equal(t, "Hello world", text.Text)
}

func TestEngine_DeltaBeforeMessageStart(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ThinkingDeltaFrame{Thinking: "Let me think"},
		protocol.MessageStartFrame{MessageID: "msg_123"},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 1, "placeholder must be reconciled, not duplicated")
	assert.Equal(t, "msg_123", msgs[0].ID)
	assert.False(t, msgs[0].IsPlaceholder())
	require.NotEmpty(t, msgs[0].Content)
	thinking, ok := msgs[0].Content[0].(protocol.ThinkingBlock)
	require.True(t, ok)
	assert.Equal(t, "Let me think", thinking.Thinking)
}

func TestEngine_TextAndThinkingInterleave(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_1"},
		protocol.ThinkingDeltaFrame{Thinking: "hmm"},
		protocol.TextDeltaFrame{Text: "Answer"},
		protocol.ThinkingDeltaFrame{Thinking: ", right"},
		protocol.TextDeltaFrame{Text: " is 42"},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)

	thinking := msgs[0].Content[0].(protocol.ThinkingBlock)
	assert.Equal(t, "hmm, right", thinking.Thinking)
	text := msgs[0].Content[1].(protocol.TextBlock)
	assert.Equal(t, "Answer is 42", text.Text)
}

func TestEngine_EmptyDeltasAreNoOps(t *testing.T) {
	e := NewEngine()

	out := e.Apply(protocol.TextDeltaFrame{Text: ""})
	assert.False(t, out.Changed)
	assert.Equal(t, 0, e.Len(), "empty text delta must not create a message")

	out = e.Apply(protocol.ThinkingDeltaFrame{Thinking: ""})
	assert.False(t, out.Changed)
	assert.Equal(t, 0, e.Len(), "empty thinking delta must not create a message")
}

func TestEngine_SnapshotStability(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_1"},
		protocol.TextDeltaFrame{Text: "before"},
	)

	snap := e.Messages()
	apply(e, protocol.TextDeltaFrame{Text: " after"})

	// The earlier snapshot must not observe the later mutation.
	text := snap[0].Content[0].(protocol.TextBlock)
	assert.Equal(t, "before", text.Text)

	current := e.Messages()
	assert.Equal(t, "before after", current[0].Content[0].(protocol.TextBlock).Text)
}

// --- message_start reconciliation --------------------------------------------

func TestEngine_MessageStartMergeSkipsStreamedKinds(t *testing.T) {
	e := NewEngine()
	apply(e, protocol.TextDeltaFrame{Text: "streamed ahead"})

	// The start frame repeats a text block and adds a tool block; only the
	// tool block may be appended.
	apply(e, protocol.MessageStartFrame{
		MessageID: "msg_9",
		Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "from event"},
			protocol.ToolUseBlock{Type: protocol.ContentBlockTypeToolUse, ID: "t1", Name: "Read", Input: map[string]any{}},
		},
	})

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg_9", msgs[0].ID)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "streamed ahead", msgs[0].Content[0].(protocol.TextBlock).Text)
	assert.Equal(t, "t1", toolBlockAt(t, msgs[0], 1).ID)
}

func TestEngine_MessageStartReusesEmptyMessage(t *testing.T) {
	e := NewEngine()
	// Whitespace-only text still counts as semantically empty.
	apply(e, protocol.MessageStartFrame{
		MessageID: "msg_a",
		Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "  \n"},
		},
	})
	apply(e, protocol.MessageStartFrame{
		MessageID: "msg_b",
		Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "real content"},
		},
	})

	msgs := e.Messages()
	require.Len(t, msgs, 1, "empty tail message must be reused")
	assert.Equal(t, "msg_b", msgs[0].ID)
	require.Len(t, msgs[0].Content, 1)
	assert.Equal(t, "real content", msgs[0].Content[0].(protocol.TextBlock).Text)
}

func TestEngine_MessageStartAppendsAfterClosedMessage(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_1"},
		protocol.TextDeltaFrame{Text: "first turn"},
		protocol.UserFrame{Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "next question"},
		}},
		protocol.MessageStartFrame{MessageID: "msg_2"},
		protocol.TextDeltaFrame{Text: "second turn"},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg_1", msgs[0].ID)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "msg_2", msgs[2].ID)
	assert.Equal(t, "first turn", msgs[0].Content[0].(protocol.TextBlock).Text)
	assert.Equal(t, "second turn", msgs[2].Content[0].(protocol.TextBlock).Text)
}

func TestEngine_MessageStartIDCollision(t *testing.T) {
	e := NewEngine()
	// Two full turns that reuse the same server id; the second message must
	// get a distinct id.
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_dup"},
		protocol.TextDeltaFrame{Text: "one"},
		protocol.UserFrame{Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "again"},
		}},
		protocol.MessageStartFrame{MessageID: "msg_dup"},
		protocol.TextDeltaFrame{Text: "two"},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg_dup", msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[2].ID)
	assert.True(t, strings.HasPrefix(msgs[2].ID, "msg_dup-"), "collision resolved by suffix, got %q", msgs[2].ID)
}

func TestEngine_IDsStayUniqueAcrossRepeatedCollisions(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 8; i++ {
		apply(e,
			protocol.MessageStartFrame{MessageID: "msg_same"},
			protocol.TextDeltaFrame{Text: "x"},
			protocol.UserFrame{Content: protocol.ContentBlocks{
				protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "ok"},
			}},
		)
	}

	seen := make(map[string]bool)
	for _, msg := range e.Messages() {
		assert.False(t, seen[msg.ID], "duplicate id %q", msg.ID)
		seen[msg.ID] = true
	}
}

// --- Tool lifecycle -----------------------------------------------------------

func TestEngine_ToolInputFragmentAccumulation(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "tool_1", ToolName: "Read", ToolType: "builtin"},
		protocol.ToolProgressFrame{ToolID: "tool_1", OutputPreview: `{"path":`},
	)

	block := toolBlockAt(t, e.Messages()[0], 0)
	assert.Equal(t, "Read", block.Name)
	assert.Empty(t, block.Input, "input must stay empty until the accumulation parses")

	apply(e, protocol.ToolProgressFrame{ToolID: "tool_1", OutputPreview: `"a.ts"}`})

	block = toolBlockAt(t, e.Messages()[0], 0)
	assert.Equal(t, map[string]any{"path": "a.ts"}, block.Input)
}

func TestEngine_ToolStartIdempotent(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "tool_1", ToolName: "Read"},
		protocol.ToolStartFrame{ToolID: "tool_1", ToolName: "Read"},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	count := 0
	for _, b := range msgs[0].Content {
		if tool, ok := b.(protocol.ToolUseBlock); ok && tool.ID == "tool_1" {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate tool_start must not add a second block")
}

func TestEngine_ToolCompleteAuthoritativeInput(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "t1", ToolName: "Bash"},
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `{"command":"ls"}`},
		protocol.ToolCompleteFrame{
			ToolID: "t1",
			Result: json.RawMessage(`{"type":"tool_use","id":"t1","input":{"command":"ls -la","timeout":5}}`),
		},
	)

	block := toolBlockAt(t, e.Messages()[0], 0)
	assert.Equal(t, map[string]any{"command": "ls -la", "timeout": float64(5)}, block.Input,
		"completion input supersedes fragment assembly")
}

func TestEngine_ToolCompleteWithoutInputKeepsStreamed(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "t1", ToolName: "Bash"},
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `{"command":"ls"}`},
		protocol.ToolCompleteFrame{ToolID: "t1", Result: json.RawMessage(`"done"`)},
	)

	block := toolBlockAt(t, e.Messages()[0], 0)
	assert.Equal(t, map[string]any{"command": "ls"}, block.Input)
}

func TestEngine_DanglingToolFramesNoOp(t *testing.T) {
	e := NewEngine()
	apply(e, protocol.ToolStartFrame{ToolID: "known", ToolName: "Read"})

	out := e.Apply(protocol.ToolProgressFrame{ToolID: "ghost", OutputPreview: `{"a":1}`})
	assert.False(t, out.Changed)

	out = e.Apply(protocol.ToolCompleteFrame{ToolID: "ghost"})
	assert.False(t, out.Changed)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 1, "dangling frames must never synthesize blocks")
	assert.Equal(t, "known", toolBlockAt(t, msgs[0], 0).ID)
}

func TestEngine_ToolFramesAfterClosedMessageNoOp(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "t1", ToolName: "Read"},
		protocol.UserFrame{Content: protocol.ContentBlocks{
			protocol.ToolResultBlock{Type: protocol.ContentBlockTypeToolResult, ToolUseID: "t1", Content: "ok"},
		}},
	)

	// The assistant message is closed; its tool call is no longer reachable.
	out := e.Apply(protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `{"late":true}`})
	assert.False(t, out.Changed)
	assert.Empty(t, toolBlockAt(t, e.Messages()[0], 0).Input)
}

func TestEngine_MaxToolInputBytes(t *testing.T) {
	e := NewEngine(WithMaxToolInputBytes(8))
	apply(e,
		protocol.ToolStartFrame{ToolID: "t1", ToolName: "Write"},
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `{"path"`},
		// Exceeds the cap; dropped, buffer frozen.
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `:"a.go"}`},
	)

	block := toolBlockAt(t, e.Messages()[0], 0)
	assert.Empty(t, block.Input, "input must stay empty once the cap trips")

	// Authoritative completion input still lands.
	apply(e, protocol.ToolCompleteFrame{
		ToolID: "t1",
		Result: json.RawMessage(`{"input":{"path":"a.go"}}`),
	})
	block = toolBlockAt(t, e.Messages()[0], 0)
	assert.Equal(t, map[string]any{"path": "a.go"}, block.Input)
}

// --- message_complete ---------------------------------------------------------

func TestEngine_MessageCompleteStampsUsage(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_1"},
		protocol.TextDeltaFrame{Text: "done"},
		protocol.MessageCompleteFrame{Usage: &protocol.Usage{InputTokens: 10, OutputTokens: 20, CachedTokens: 5}},
	)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Usage)
	assert.Equal(t, 10, msgs[0].Usage.InputTokens)
	assert.Equal(t, 20, msgs[0].Usage.OutputTokens)
	assert.Equal(t, 5, msgs[0].Usage.CachedTokens)
}

func TestEngine_MessageCompleteClearsAccumulators(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.ToolStartFrame{ToolID: "t1", ToolName: "Read"},
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `{"path":`},
		protocol.MessageCompleteFrame{},
		// The half-accumulated prefix is gone; this fragment alone is not
		// valid JSON, so the input must stay empty.
		protocol.ToolProgressFrame{ToolID: "t1", OutputPreview: `"a.ts"}`},
	)

	block := toolBlockAt(t, e.Messages()[0], 0)
	assert.Empty(t, block.Input)
}

func TestEngine_MessageCompleteWithoutOpenMessage(t *testing.T) {
	e := NewEngine()
	out := e.Apply(protocol.MessageCompleteFrame{})
	assert.False(t, out.Changed)
	assert.Equal(t, 0, e.Len())
}

// --- user / assistant / error frames ------------------------------------------

func TestEngine_UserFrameClassification(t *testing.T) {
	t.Run("replay passthrough", func(t *testing.T) {
		e := NewEngine()
		apply(e, protocol.UserFrame{
			IsReplay: true,
			Content: protocol.ContentBlocks{
				protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "This session is being continued from a previous run."},
			},
		})
		msgs := e.Messages()
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].IsReplay)
		assert.False(t, msgs[0].IsCompactSummary, "replayed confirmations are not summaries")
	})

	t.Run("compact summary", func(t *testing.T) {
		e := NewEngine()
		apply(e, protocol.UserFrame{
			Content: protocol.ContentBlocks{
				protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "This session is being continued from a previous conversation."},
			},
		})
		msgs := e.Messages()
		require.Len(t, msgs, 1)
		assert.False(t, msgs[0].IsReplay)
		assert.True(t, msgs[0].IsCompactSummary)
	})

	t.Run("ordinary carrier", func(t *testing.T) {
		e := NewEngine()
		apply(e, protocol.UserFrame{
			Content: protocol.ContentBlocks{
				protocol.ToolResultBlock{Type: protocol.ContentBlockTypeToolResult, ToolUseID: "t1", Content: "ok"},
			},
		})
		msgs := e.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, RoleUser, msgs[0].Role)
		assert.False(t, msgs[0].IsCompactSummary)
	})
}

func TestEngine_UserFrameAlwaysAppends(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.UserFrame{Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "one"},
		}},
		protocol.UserFrame{Content: protocol.ContentBlocks{
			protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "two"},
		}},
	)
	assert.Equal(t, 2, e.Len(), "user frames never merge")
}

func TestEngine_AssistantSnapshotIgnored(t *testing.T) {
	e := NewEngine()
	apply(e,
		protocol.MessageStartFrame{MessageID: "msg_1"},
		protocol.TextDeltaFrame{Text: "streamed"},
	)

	out := e.Apply(protocol.AssistantFrame{Content: protocol.ContentBlocks{
		protocol.TextBlock{Type: protocol.ContentBlockTypeText, Text: "snapshot"},
	}})
	assert.False(t, out.Changed)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "streamed", msgs[0].Content[0].(protocol.TextBlock).Text)
}

func TestEngine_ErrorFrameDroppedByDefault(t *testing.T) {
	e := NewEngine()
	out := e.Apply(protocol.ErrorFrame{Message: "backend exploded"})
	assert.False(t, out.Changed)
	assert.Equal(t, 0, e.Len())
}

func TestEngine_ErrorFrameRecordedWhenEnabled(t *testing.T) {
	e := NewEngine(WithRecordErrorFrames(true))
	out := e.Apply(protocol.ErrorFrame{Message: "backend exploded"})
	assert.True(t, out.Changed)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	errBlock, ok := msgs[0].Content[0].(protocol.ErrorBlock)
	require.True(t, ok)
	assert.Equal(t, "backend exploded", errBlock.Message)
}

func TestEngine_UnknownFrameIgnored(t *testing.T) {
	e := NewEngine()
	out := e.Apply(protocol.UnknownFrame{Type: "heartbeat", Raw: json.RawMessage(`{"type":"heartbeat"}`)})
	assert.False(t, out.Changed)
	assert.Equal(t, 0, e.Len())
}

// --- Generating hints ----------------------------------------------------------

func TestEngine_GeneratingHints(t *testing.T) {
	cases := []struct {
		name  string
		frame protocol.Frame
		want  GeneratingHint
	}{
		{"message_start", protocol.MessageStartFrame{MessageID: "m"}, GeneratingActive},
		{"text_delta", protocol.TextDeltaFrame{Text: "x"}, GeneratingActive},
		{"thinking_delta", protocol.ThinkingDeltaFrame{Thinking: "x"}, GeneratingActive},
		{"tool_start", protocol.ToolStartFrame{ToolID: "t"}, GeneratingActive},
		{"empty text delta", protocol.TextDeltaFrame{}, GeneratingUnchanged},
		{"message_complete", protocol.MessageCompleteFrame{}, GeneratingUnchanged},
		{"user", protocol.UserFrame{}, GeneratingUnchanged},
		{"assistant", protocol.AssistantFrame{}, GeneratingUnchanged},
		{"error", protocol.ErrorFrame{Message: "x"}, GeneratingUnchanged},
		{"unknown", protocol.UnknownFrame{Type: "zz"}, GeneratingUnchanged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine()
			out := e.Apply(tc.frame)
			assert.Equal(t, tc.want, out.Generating)
		})
	}
}

// --- Wire-level integration -----------------------------------------------------

func TestEngine_ParsedStreamEndToEnd(t *testing.T) {
	lines := []string{
		`{"type":"user","content":[{"type":"text","text":"read a.ts for me"}]}`,
		`{"type":"message_start","message_id":"msg_live"}`,
		`{"type":"thinking_delta","thinking":"Need to open the file."}`,
		`{"type":"text_delta","text":"Reading"}`,
		`{"type":"tool_start","tool_id":"toolu_1","tool_name":"Read","tool_type":"builtin"}`,
		`{"type":"tool_progress","tool_id":"toolu_1","output_preview":"{\"path\":"}`,
		`{"type":"tool_progress","tool_id":"toolu_1","output_preview":"\"a.ts\"}"}`,
		`{"type":"tool_complete","tool_id":"toolu_1","result":{"type":"tool_use","id":"toolu_1","input":{"path":"a.ts"}}}`,
		`{"type":"message_complete","usage":{"input_tokens":12,"output_tokens":34}}`,
		`{"type":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"file contents","is_error":false}]}`,
	}

	e := NewEngine()
	for _, line := range lines {
		frame, err := protocol.ParseFrame([]byte(line))
		require.NoError(t, err)
		e.Apply(frame)
	}

	msgs := e.Messages()
	require.Len(t, msgs, 3)

	assistant := msgs[1]
	assert.Equal(t, "msg_live", assistant.ID)
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "Need to open the file.", assistant.Content[0].(protocol.ThinkingBlock).Thinking)
	assert.Equal(t, "Reading", assistant.Content[1].(protocol.TextBlock).Text)
	assert.Equal(t, map[string]any{"path": "a.ts"}, toolBlockAt(t, assistant, 2).Input)
	require.NotNil(t, assistant.Usage)
	assert.Equal(t, 12, assistant.Usage.InputTokens)

	status := ResolveToolStatus("toolu_1", msgs)
	assert.Equal(t, ToolStateSuccess, status.State)
	assert.Equal(t, "file contents", status.Result)
}
