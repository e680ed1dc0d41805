package services

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/covehq/cove/internal/domain/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textRaw(t *testing.T, s string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}

func blocksRaw(t *testing.T, blocks ...map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(blocks)
	require.NoError(t, err)
	return data
}

func TestNormalizeHistory_BasicConversation(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	entries := []entities.HistoryEntry{
		{Role: "user", Content: textRaw(t, "hi"), Timestamp: base},
		{Role: "assistant", Content: textRaw(t, "hello"), Timestamp: base + 1000},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 2)

	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, fmt.Sprintf("hist_0_%d", base), messages[0].ID)

	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "hello", messages[1].Content)
}

func TestNormalizeHistory_ToolResultsNeverStandalone(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{
			Role: "assistant",
			Content: blocksRaw(t,
				map[string]any{"type": "text", "text": "Let me check"},
				map[string]any{"type": "toolCall", "id": "t1", "name": "search", "insertedAt": 12},
			),
			Timestamp: base,
		},
		{
			Role: "toolResult",
			Content: blocksRaw(t,
				map[string]any{"type": "toolResult", "toolCallId": "t1", "content": "42", "isError": false},
			),
			Timestamp: base + 100,
		},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "t1", msg.ToolCalls[0].ID)
	assert.Equal(t, "42", msg.ToolCalls[0].Result)
	assert.Equal(t, entities.ToolCallStatusComplete, msg.ToolCalls[0].Status)
	assert.False(t, msg.ToolCalls[0].CompletedAt.IsZero())
}

func TestNormalizeHistory_ErrorToolResult(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{
			Role: "assistant",
			Content: blocksRaw(t,
				map[string]any{"type": "toolCall", "id": "t1", "name": "exec"},
			),
			Timestamp: base,
		},
		{
			Role: "toolResult",
			Content: blocksRaw(t,
				map[string]any{"type": "toolResult", "toolCallId": "t1", "content": "boom", "isError": true},
			),
			Timestamp: base + 100,
		},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].ToolCalls, 1)
	assert.Equal(t, entities.ToolCallStatusError, messages[0].ToolCalls[0].Status)
	assert.Equal(t, "boom", messages[0].ToolCalls[0].Result)
}

func TestNormalizeHistory_SameTurnAssistantMerge(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{Role: "assistant", Content: textRaw(t, "First block"), Timestamp: base},
		{
			Role: "assistant",
			Content: blocksRaw(t,
				map[string]any{"type": "toolCall", "id": "t2", "name": "lookup", "insertedAt": 0},
				map[string]any{"type": "text", "text": "Second block"},
			),
			Timestamp: base + 2000,
		},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 1)

	msg := messages[0]
	sep := entities.TextBlockSeparator
	assert.Equal(t, "First block"+sep+"Second block", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	// Offset shifted past the previous content plus the separator.
	assert.Equal(t, len("First block")+len(sep), msg.ToolCalls[0].InsertedAtContentLength)
	assert.Equal(t, time.UnixMilli(base+2000), msg.Timestamp)
}

func TestNormalizeHistory_DistantAssistantTurnsNotMerged(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{Role: "assistant", Content: textRaw(t, "turn one"), Timestamp: base},
		{Role: "assistant", Content: textRaw(t, "turn two"), Timestamp: base + (SameTurnThreshold + time.Second).Milliseconds()},
	}

	messages := NormalizeHistory(entries)
	assert.Len(t, messages, 2)
}

func TestNormalizeHistory_MergeWithEmptySide(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{
			Role: "assistant",
			Content: blocksRaw(t,
				map[string]any{"type": "toolCall", "id": "t1", "name": "probe", "insertedAt": 0},
			),
			Timestamp: base,
		},
		{Role: "assistant", Content: textRaw(t, "after the tool"), Timestamp: base + 500},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 1)

	// No separator when the first side had no text.
	assert.Equal(t, "after the tool", messages[0].Content)
	require.Len(t, messages[0].ToolCalls, 1)
	assert.Equal(t, 0, messages[0].ToolCalls[0].InsertedAtContentLength)
}

// A reloaded transcript has to look like what live streaming would have
// produced for the same turn: one assistant message, blocks joined by the
// separator, tool call anchored between them with its result attached.
func TestNormalizeHistory_MatchesLiveStreamingShape(t *testing.T) {
	base := time.Now().UnixMilli()
	entries := []entities.HistoryEntry{
		{Role: "user", Content: textRaw(t, "check this"), Timestamp: base},
		{
			Role: "assistant",
			Content: blocksRaw(t,
				map[string]any{"type": "text", "text": "Let me check"},
				map[string]any{"type": "toolCall", "id": "t1", "name": "search", "insertedAt": len("Let me check")},
			),
			Timestamp: base + 1000,
		},
		{
			Role: "toolResult",
			Content: blocksRaw(t,
				map[string]any{"type": "toolResult", "toolCallId": "t1", "content": "42"},
			),
			Timestamp: base + 2000,
		},
		{Role: "assistant", Content: textRaw(t, "Done"), Timestamp: base + 3000},
	}

	messages := NormalizeHistory(entries)
	require.Len(t, messages, 2)

	turn := messages[1]
	assert.Equal(t, "assistant", turn.Role)
	assert.Equal(t, "Let me check"+entities.TextBlockSeparator+"Done", turn.Content)
	require.Len(t, turn.ToolCalls, 1)
	call := turn.ToolCalls[0]
	assert.Equal(t, "t1", call.ID)
	assert.Equal(t, "42", call.Result)
	assert.Equal(t, entities.ToolCallStatusComplete, call.Status)
	assert.Equal(t, len("Let me check"), call.InsertedAtContentLength)
	assert.LessOrEqual(t, call.InsertedAtContentLength, len(turn.Content))
	assert.Empty(t, call.ContentSnapshotAtStart)
}

func TestMergeIntoMessage_TimestampIsMax(t *testing.T) {
	early := time.Now().Add(-time.Minute)
	late := time.Now()

	prev := &entities.Message{Role: "assistant", Content: "a", Timestamp: late}
	curr := &entities.Message{Role: "assistant", Content: "b", Timestamp: early}
	MergeIntoMessage(prev, curr)

	assert.Equal(t, late, prev.Timestamp)
	assert.Equal(t, "a"+entities.TextBlockSeparator+"b", prev.Content)
}
