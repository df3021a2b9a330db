package protocol

import "encoding/json"

// ContentBlockType discriminates content block variants.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
	ContentBlockTypeError      ContentBlockType = "error"
)

// ContentBlock is the interface for content block discrimination.
type ContentBlock interface {
	BlockType() ContentBlockType
}

// TextBlock is a plain text span.
type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

// BlockType returns the content block type.
func (b TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ThinkingBlock is an extended reasoning span.
type ThinkingBlock struct {
	Type      ContentBlockType `json:"type"`
	Thinking  string           `json:"thinking"`
	Signature string           `json:"signature,omitempty"`
}

// BlockType returns the content block type.
func (b ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

// ToolUseBlock is an agent-initiated tool call. ID correlates the call with a
// ToolResultBlock that arrives later in a separate user-role message; no
// back-pointer is ever stored in the other direction.
type ToolUseBlock struct {
	Type     ContentBlockType `json:"type"`
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	ToolType string           `json:"tool_type,omitempty"`
	Input    map[string]any   `json:"input"`
}

// BlockType returns the content block type.
func (b ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock carries the outcome of a tool call, correlated by ToolUseID.
// Content is either a string or structured JSON, preserved as decoded.
type ToolResultBlock struct {
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	Content   any              `json:"content"`
	IsError   *bool            `json:"is_error,omitempty"`
}

// BlockType returns the content block type.
func (b ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// Errored reports whether the result is flagged as an error.
func (b ToolResultBlock) Errored() bool { return b.IsError != nil && *b.IsError }

// ErrorBlock carries a protocol-level error materialized into content.
type ErrorBlock struct {
	Type    ContentBlockType `json:"type"`
	Message string           `json:"message"`
}

// BlockType returns the content block type.
func (b ErrorBlock) BlockType() ContentBlockType { return ContentBlockTypeError }

// RawBlock preserves any block variant this package does not model
// (image, command_execution, mcp_tool_call, web_search, todo_list, ...).
// The original JSON survives verbatim so transcripts round-trip.
type RawBlock struct {
	Type ContentBlockType `json:"type"`
	Raw  json.RawMessage  `json:"-"`
}

// BlockType returns the content block type.
func (b RawBlock) BlockType() ContentBlockType { return b.Type }

// MarshalJSON emits the preserved payload unchanged.
func (b RawBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) > 0 {
		return b.Raw, nil
	}
	return json.Marshal(struct {
		Type ContentBlockType `json:"type"`
	}{b.Type})
}

// UnmarshalContentBlock parses a single content block. Variants this package
// does not model come back as RawBlock; the caller never loses content.
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var base struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case ContentBlockTypeText:
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeThinking:
		var b ThinkingBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		if b.Input == nil {
			b.Input = map[string]any{}
		}
		return b, nil
	case ContentBlockTypeToolResult:
		var b ToolResultBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeError:
		var b ErrorBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return RawBlock{Type: base.Type, Raw: raw}, nil
	}
}

// ContentBlocks is an ordered list of content blocks.
type ContentBlocks []ContentBlock

// UnmarshalJSON decodes an array of blocks, funneling unmodeled variants
// into RawBlock entries. Backends sometimes send plain-string content for
// simple user prompts; a bare string decodes as a single text block.
func (c *ContentBlocks) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = ContentBlocks{TextBlock{Type: ContentBlockTypeText, Text: text}}
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	blocks := make([]ContentBlock, 0, len(raws))
	for _, raw := range raws {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}
	*c = blocks
	return nil
}

// Usage is per-message token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
}
