package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageContent_PlainString(t *testing.T) {
	parsed := ParseMessageContent(json.RawMessage(`"just text"`))
	assert.Equal(t, "just text", parsed.Text)
	assert.Empty(t, parsed.ToolCalls)
	assert.Empty(t, parsed.ToolResults)
}

func TestParseMessageContent_Empty(t *testing.T) {
	assert.Equal(t, ParsedContent{}, ParseMessageContent(nil))
	assert.Equal(t, ParsedContent{}, ParseMessageContent(json.RawMessage(`{"not":"a list"}`)))
}

func TestParseMessageContent_TextBlocksJoined(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"text","text":"first"},
		{"type":"text","text":"second"}
	]`)
	parsed := ParseMessageContent(raw)
	assert.Equal(t, "first"+TextBlockSeparator+"second", parsed.Text)
}

func TestParseMessageContent_ToolCallAnchoring(t *testing.T) {
	t.Run("explicit insertedAt", func(t *testing.T) {
		raw := json.RawMessage(`[
			{"type":"text","text":"hello"},
			{"type":"toolCall","id":"t1","name":"search","insertedAt":2}
		]`)
		parsed := ParseMessageContent(raw)
		require.Len(t, parsed.ToolCalls, 1)
		assert.Equal(t, 2, parsed.ToolCalls[0].InsertedAtContentLength)
	})

	t.Run("defaults to end of accumulated text", func(t *testing.T) {
		raw := json.RawMessage(`[
			{"type":"text","text":"hello"},
			{"type":"toolCall","id":"t1","name":"search"},
			{"type":"text","text":"world"}
		]`)
		parsed := ParseMessageContent(raw)
		require.Len(t, parsed.ToolCalls, 1)
		assert.Equal(t, len("hello"), parsed.ToolCalls[0].InsertedAtContentLength)
		assert.Equal(t, "hello"+TextBlockSeparator+"world", parsed.Text)
	})

	t.Run("tool_use alias", func(t *testing.T) {
		raw := json.RawMessage(`[{"type":"tool_use","id":"t1","name":"exec","args":{"cmd":"ls"}}]`)
		parsed := ParseMessageContent(raw)
		require.Len(t, parsed.ToolCalls, 1)
		assert.Equal(t, "exec", parsed.ToolCalls[0].Name)
		assert.Equal(t, map[string]any{"cmd": "ls"}, parsed.ToolCalls[0].Args)
	})
}

func TestParseMessageContent_ToolResults(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"toolResult","toolCallId":"t1","content":"plain result"},
		{"type":"tool_result","toolCallId":"t2","content":[{"type":"text","text":"wrapped"}],"isError":true}
	]`)
	parsed := ParseMessageContent(raw)
	require.Len(t, parsed.ToolResults, 2)
	assert.Equal(t, "plain result", parsed.ToolResults[0].Content)
	assert.False(t, parsed.ToolResults[0].IsError)
	assert.Equal(t, "wrapped", parsed.ToolResults[1].Content)
	assert.True(t, parsed.ToolResults[1].IsError)
}

func TestParseMessageContent_UnknownBlocksSkipped(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"thinking","text":"hidden"},
		{"type":"text","text":"visible"}
	]`)
	parsed := ParseMessageContent(raw)
	assert.Equal(t, "visible", parsed.Text)
}

func TestIdempotencyKeyRoundTrip(t *testing.T) {
	key := NewIdempotencyKey()
	assert.Equal(t, key, IdempotencyKey(UserMessageID(key)))
	// Non-user ids pass through untouched.
	assert.Equal(t, "assistant_r1", IdempotencyKey("assistant_r1"))
}
