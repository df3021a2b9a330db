package main

import (
	"fmt"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/bazelment/tapestry/protocol"
	"github.com/bazelment/tapestry/transcript"
)

// styles holds the lipgloss styles used for transcript rendering. A zero
// style renders text unchanged, so the plain set just omits the colors.
type styles struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	dim       lipgloss.Style
	err       lipgloss.Style
	running   lipgloss.Style
	done      lipgloss.Style
}

func newStyles(colored bool) styles {
	if !colored {
		return styles{}
	}
	return styles{
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		system:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		running:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		done:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// useColor reports whether stdout should get styled output.
func useColor() bool {
	return !noColor && term.IsTerminal(int(os.Stdout.Fd()))
}

// termWidth returns the rendering width, with a fallback when stdout is not
// a terminal.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 100
}

// renderTranscript renders all messages, resolving tool outcomes from the
// full transcript so completed calls show their final state.
func renderTranscript(messages []transcript.Message, st styles, width int) string {
	statuses := transcript.ResolveToolStatuses(collectToolIDs(messages), messages)
	var b strings.Builder
	for i := range messages {
		b.WriteString(renderMessage(messages[i], statuses, st, width))
	}
	return b.String()
}

// renderMessage renders one message with a role header. Messages that carry
// only tool results render nothing; their outcome shows up on the tool line
// of the assistant message that issued the call.
func renderMessage(msg transcript.Message, statuses map[string]transcript.ToolStatus, st styles, width int) string {
	var body strings.Builder
	for _, block := range msg.Content {
		switch b := block.(type) {
		case protocol.TextBlock:
			if text := strings.TrimRight(b.Text, "\n"); text != "" {
				body.WriteString(text)
				body.WriteString("\n")
			}
		case protocol.ThinkingBlock:
			body.WriteString(st.dim.Render("💭 " + truncateWidth(flatten(b.Thinking), width-4)))
			body.WriteString("\n")
		case protocol.ToolUseBlock:
			body.WriteString(renderToolLine(b, statuses[b.ID], st, width))
			body.WriteString("\n")
		case protocol.ErrorBlock:
			body.WriteString(st.err.Render("✗ " + b.Message))
			body.WriteString("\n")
		}
	}
	if body.Len() == 0 {
		return ""
	}

	var out strings.Builder
	out.WriteString(renderHeader(msg, st))
	out.WriteString("\n")
	out.WriteString(body.String())
	if msg.Usage != nil {
		out.WriteString(st.dim.Render(fmt.Sprintf("· %d in / %d out tokens", msg.Usage.InputTokens, msg.Usage.OutputTokens)))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	return out.String()
}

func renderHeader(msg transcript.Message, st styles) string {
	var header string
	switch msg.Role {
	case transcript.RoleUser:
		header = st.user.Render("● user")
	case transcript.RoleAssistant:
		header = st.assistant.Render("● assistant")
	default:
		header = st.system.Render("● " + string(msg.Role))
	}
	switch {
	case msg.IsCompactSummary:
		header += st.dim.Render(" (compacted)")
	case msg.IsReplay:
		header += st.dim.Render(" (replay)")
	}
	return header
}

// renderToolLine formats one tool call with its resolved outcome glyph.
func renderToolLine(tool protocol.ToolUseBlock, status transcript.ToolStatus, st styles, width int) string {
	display := "[" + tool.Name + "]"
	if detail := toolDetail(tool.Input, width-len(display)-8); detail != "" {
		display += " " + detail
	}
	switch status.State {
	case transcript.ToolStateSuccess:
		return st.done.Render("✓ ") + st.dim.Render(display)
	case transcript.ToolStateError:
		return st.err.Render("✗ " + display)
	default:
		return "🔧 " + display + " " + st.running.Render("⏳")
	}
}

// toolDetail extracts a short human-readable argument from a tool input.
func toolDetail(input map[string]any, max int) string {
	if input == nil || max <= 0 {
		return ""
	}
	for _, key := range []string{"file_path", "command", "pattern", "query", "description", "url"} {
		if v, ok := input[key].(string); ok && v != "" {
			return truncateWidth(flatten(v), max)
		}
	}
	return ""
}

// collectToolIDs gathers tool call ids across the transcript in order.
func collectToolIDs(messages []transcript.Message) []string {
	var ids []string
	for i := range messages {
		for _, block := range messages[i].Content {
			if tool, ok := block.(protocol.ToolUseBlock); ok {
				ids = append(ids, tool.ID)
			}
		}
	}
	return ids
}

// truncateWidth truncates s to max display columns, honoring wide runes.
func truncateWidth(s string, max int) string {
	if max <= 0 {
		return ""
	}
	return runewidth.Truncate(s, max, "…")
}

// flatten collapses a multi-line string into one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
