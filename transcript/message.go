package transcript

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bazelment/tapestry/protocol"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// placeholderPrefix marks assistant messages created locally before the
// backend announced their id.
const placeholderPrefix = "assistant-"

// compactSummaryMarker opens the first text block of a compaction summary
// message, distinguishing it from ordinary replayed user messages.
const compactSummaryMarker = "This session is being continued"

// Message is one transcript entry. Content is append-only once the message
// is closed; while the message is open (the transcript tail, assistant
// role), the engine mutates it by swapping in freshly built block slices.
type Message struct {
	ID               string
	Role             Role
	Content          []protocol.ContentBlock
	Timestamp        time.Time
	IsReplay         bool
	IsCompactSummary bool
	Usage            *protocol.Usage
}

// IsPlaceholder reports whether the message still carries a locally
// generated id, meaning the backend has not yet named it.
func (m Message) IsPlaceholder() bool {
	return strings.HasPrefix(m.ID, placeholderPrefix)
}

// isSemanticallyEmpty reports whether the message carries no content worth
// keeping: no blocks at all, or only whitespace text blocks.
func (m Message) isSemanticallyEmpty() bool {
	for _, block := range m.Content {
		text, ok := block.(protocol.TextBlock)
		if !ok {
			return false
		}
		if strings.TrimSpace(text.Text) != "" {
			return false
		}
	}
	return true
}

// Text returns the concatenation of the message's text blocks.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if text, ok := block.(protocol.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

// firstTextBlock returns the first text block's payload, if any.
func firstTextBlock(blocks []protocol.ContentBlock) (string, bool) {
	for _, block := range blocks {
		if text, ok := block.(protocol.TextBlock); ok {
			return text.Text, true
		}
	}
	return "", false
}

// hasBlockOfKind reports whether any block of the given kind exists.
func hasBlockOfKind(blocks []protocol.ContentBlock, kind protocol.ContentBlockType) bool {
	for _, block := range blocks {
		if block.BlockType() == kind {
			return true
		}
	}
	return false
}

// cloneBlocks returns a fresh slice sharing the block values. Blocks are
// value types and the engine never edits a block in place, so sharing the
// elements is safe; the fresh backing array is what lets observers compare
// slices to detect mutation.
func cloneBlocks[S ~[]protocol.ContentBlock](blocks S) []protocol.ContentBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]protocol.ContentBlock, len(blocks))
	copy(out, blocks)
	return out
}

// newLocalID generates a client-side message id. The timestamp component
// keeps ids sortable in logs; the random suffix keeps them unique even when
// two ids are generated within the same nanosecond tick.
func newLocalID(role Role) string {
	return fmt.Sprintf("%s-%d-%s", role, time.Now().UnixNano(), randomHex(3))
}

// randomHex returns n random bytes hex-encoded, falling back to a
// timestamp-derived suffix if the system randomness source fails.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
