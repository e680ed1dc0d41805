package services

import (
	"time"

	"github.com/covehq/cove/internal/domain/entities"
)

// ApplyToolEvent folds one tool-stream event into a run's tool call list.
// Events are not guaranteed to arrive in order relative to text deltas or
// to each other across a page reload: duplicate starts are ignored, and
// updates or results for a call whose start was missed synthesize an entry
// with best-effort offsets.
func ApplyToolEvent(run *entities.Run, ev entities.ToolStreamEvent, now time.Time) {
	switch ev.Phase {
	case entities.ToolPhaseStart:
		if run.FindToolCall(ev.ToolCallID) >= 0 {
			return // duplicate start, the gateway may redeliver
		}
		run.ToolCalls = append(run.ToolCalls, entities.ToolCall{
			ID:                      ev.ToolCallID,
			Name:                    ev.Name,
			Args:                    ev.Args,
			Status:                  entities.ToolCallStatusRunning,
			StartedAt:               now,
			InsertedAtContentLength: len(run.Content),
			ContentSnapshotAtStart:  run.Content,
		})

	case entities.ToolPhaseUpdate:
		call := findOrSynthesize(run, ev, now)
		call.Result = ev.PartialResult

	case entities.ToolPhaseResult:
		call := findOrSynthesize(run, ev, now)
		call.Result = ev.Result
		call.CompletedAt = now
		if ev.IsError {
			call.Status = entities.ToolCallStatusError
		} else {
			call.Status = entities.ToolCallStatusComplete
		}
	}
}

func findOrSynthesize(run *entities.Run, ev entities.ToolStreamEvent, now time.Time) *entities.ToolCall {
	if i := run.FindToolCall(ev.ToolCallID); i >= 0 {
		return &run.ToolCalls[i]
	}
	run.ToolCalls = append(run.ToolCalls, entities.ToolCall{
		ID:                      ev.ToolCallID,
		Name:                    ev.Name,
		Args:                    ev.Args,
		Status:                  entities.ToolCallStatusRunning,
		StartedAt:               now,
		InsertedAtContentLength: len(run.Content),
	})
	return &run.ToolCalls[len(run.ToolCalls)-1]
}
