package services

import (
	"fmt"
	"time"

	"github.com/covehq/cove/internal/domain/entities"
)

// SameTurnThreshold bounds how far apart two consecutive assistant history
// entries may be and still belong to the same logical turn. Entries within
// the threshold are merged into one rendered message.
const SameTurnThreshold = 5 * time.Second

// NormalizeHistory converts a batch of raw history entries into the same
// Message shape live runs produce. Tool-result entries are never rendered
// standalone: a pre-pass indexes them by tool call id, and the main pass
// attaches each result to the assistant message that owns the call.
// Consecutive assistant messages from the same turn are merged so a page
// reload lands on a transcript visually identical to what live streaming
// built.
func NormalizeHistory(entries []entities.HistoryEntry) []*entities.Message {
	results := collectToolResults(entries)

	var messages []*entities.Message
	for i, entry := range entries {
		if isToolResultEntry(entry) {
			continue
		}

		msg := normalizeEntry(i, entry)
		attachToolResults(msg, results)

		if prev := lastMessage(messages); prev != nil &&
			prev.Role == "assistant" && msg.Role == "assistant" &&
			withinSameTurn(prev.Timestamp, msg.Timestamp) {
			MergeIntoMessage(prev, msg)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// MergeIntoMessage folds curr into prev. Tool call offsets from curr are
// shifted past prev's content plus the joining separator, which is empty
// when either side has no text.
func MergeIntoMessage(prev, curr *entities.Message) {
	sep := ""
	if prev.Content != "" && curr.Content != "" {
		sep = entities.TextBlockSeparator
	}

	shift := len(prev.Content) + len(sep)
	for _, call := range curr.ToolCalls {
		call.InsertedAtContentLength += shift
		prev.ToolCalls = append(prev.ToolCalls, call)
	}

	prev.Content += sep + curr.Content
	if curr.Timestamp.After(prev.Timestamp) {
		prev.Timestamp = curr.Timestamp
	}
}

func collectToolResults(entries []entities.HistoryEntry) map[string]entities.ToolResult {
	results := make(map[string]entities.ToolResult)
	for _, entry := range entries {
		if !isToolResultEntry(entry) {
			continue
		}
		parsed := entities.ParseMessageContent(entry.Content)
		for _, res := range parsed.ToolResults {
			if res.ToolCallID != "" {
				results[res.ToolCallID] = res
			}
		}
	}
	return results
}

func isToolResultEntry(entry entities.HistoryEntry) bool {
	if entry.Role == "toolResult" || entry.Role == "tool" {
		return true
	}
	parsed := entities.ParseMessageContent(entry.Content)
	return len(parsed.ToolResults) > 0 && parsed.Text == "" && len(parsed.ToolCalls) == 0
}

func normalizeEntry(index int, entry entities.HistoryEntry) *entities.Message {
	parsed := entities.ParseMessageContent(entry.Content)

	ts := entry.Time()
	if ts.IsZero() {
		ts = time.Now()
	}

	role := entry.Role
	if role != "user" && role != "assistant" {
		role = "assistant"
	}

	return &entities.Message{
		ID:        fmt.Sprintf("hist_%d_%d", index, entry.Timestamp),
		Role:      role,
		Content:   parsed.Text,
		ToolCalls: parsed.ToolCalls,
		Timestamp: ts,
	}
}

func attachToolResults(msg *entities.Message, results map[string]entities.ToolResult) {
	for i := range msg.ToolCalls {
		res, ok := results[msg.ToolCalls[i].ID]
		if !ok {
			continue
		}
		msg.ToolCalls[i].Result = res.Content
		msg.ToolCalls[i].CompletedAt = msg.Timestamp
		if res.IsError {
			msg.ToolCalls[i].Status = entities.ToolCallStatusError
		} else {
			msg.ToolCalls[i].Status = entities.ToolCallStatusComplete
		}
	}
}

func lastMessage(messages []*entities.Message) *entities.Message {
	if len(messages) == 0 {
		return nil
	}
	return messages[len(messages)-1]
}

func withinSameTurn(a, b time.Time) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d <= SameTurnThreshold
}
