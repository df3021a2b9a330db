package transcript

import "github.com/bazelment/tapestry/protocol"

// ToolState classifies the resolved execution state of a tool call.
type ToolState string

const (
	ToolStateRunning ToolState = "running"
	ToolStateSuccess ToolState = "success"
	ToolStateError   ToolState = "error"
)

// ToolStatus is the derived outcome for one tool call. Result carries the
// matched tool_result content and is nil while the call is still running.
type ToolStatus struct {
	State  ToolState
	Result any
}

// Resolved reports whether a matching tool_result was found.
func (s ToolStatus) Resolved() bool { return s.State != ToolStateRunning }

// ResolveToolStatus derives the status of a tool call by scanning the
// transcript backward for a tool_result block whose tool_use_id matches.
// Results arrive in user messages after the assistant message that issued
// the call, so scanning from the tail finds the relevant result first. No
// match means the call is still running.
func ResolveToolStatus(toolUseID string, messages []Message) ToolStatus {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, block := range messages[i].Content {
			result, ok := block.(protocol.ToolResultBlock)
			if !ok || result.ToolUseID != toolUseID {
				continue
			}
			return statusFromResult(result)
		}
	}
	return ToolStatus{State: ToolStateRunning}
}

// ResolveToolStatuses resolves many tool calls in one backward pass,
// stopping early once every id has matched. Ids with no matching result
// map to running.
func ResolveToolStatuses(toolUseIDs []string, messages []Message) map[string]ToolStatus {
	statuses := make(map[string]ToolStatus, len(toolUseIDs))
	pending := make(map[string]bool, len(toolUseIDs))
	for _, id := range toolUseIDs {
		pending[id] = true
	}
	for i := len(messages) - 1; i >= 0 && len(pending) > 0; i-- {
		for _, block := range messages[i].Content {
			result, ok := block.(protocol.ToolResultBlock)
			if !ok || !pending[result.ToolUseID] {
				continue
			}
			statuses[result.ToolUseID] = statusFromResult(result)
			delete(pending, result.ToolUseID)
		}
	}
	for id := range pending {
		statuses[id] = ToolStatus{State: ToolStateRunning}
	}
	return statuses
}

func statusFromResult(result protocol.ToolResultBlock) ToolStatus {
	state := ToolStateSuccess
	if result.Errored() {
		state = ToolStateError
	}
	return ToolStatus{State: state, Result: result.Content}
}
