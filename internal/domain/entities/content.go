package entities

import (
	"encoding/json"
)

// ToolResult is a tool outcome recorded in history as its own entry.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ParsedContent is the flattened form of a structured message content value.
type ParsedContent struct {
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type contentBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Args       map[string]any  `json:"args,omitempty"`
	InsertedAt *int            `json:"insertedAt,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// ParseMessageContent splits a gateway content value into plain text, tool
// calls, and tool results. Content is either a bare string or a list of
// typed blocks. Text blocks are joined with TextBlockSeparator; a tool call
// block with no explicit insertedAt offset anchors at the end of the text
// accumulated so far. Unknown block types are skipped.
func ParseMessageContent(raw json.RawMessage) ParsedContent {
	var parsed ParsedContent
	if len(raw) == 0 {
		return parsed
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		parsed.Text = plain
		return parsed
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return parsed
	}

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if parsed.Text != "" && block.Text != "" {
				parsed.Text += TextBlockSeparator
			}
			parsed.Text += block.Text
		case "toolCall", "tool_use":
			call := ToolCall{
				ID:                      block.ID,
				Name:                    block.Name,
				Args:                    block.Args,
				Status:                  ToolCallStatusComplete,
				InsertedAtContentLength: len(parsed.Text),
			}
			if block.InsertedAt != nil {
				call.InsertedAtContentLength = *block.InsertedAt
			}
			parsed.ToolCalls = append(parsed.ToolCalls, call)
		case "toolResult", "tool_result":
			parsed.ToolResults = append(parsed.ToolResults, ToolResult{
				ToolCallID: block.ToolCallID,
				Content:    unwrapResultContent(block.Content),
				IsError:    block.IsError,
			})
		}
	}
	return parsed
}

// unwrapResultContent extracts the text of a tool result, which is either a
// bare string or a single-element "text" block list.
func unwrapResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	if len(blocks) == 1 && blocks[0].Type == "text" {
		return blocks[0].Text
	}

	var sb []byte
	for _, block := range blocks {
		if block.Type == "text" {
			sb = append(sb, block.Text...)
		}
	}
	return string(sb)
}
