package services

import (
	"testing"
	"time"

	"github.com/covehq/cove/internal/domain/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyToolEvent_StartCapturesOffsetAndSnapshot(t *testing.T) {
	run := entities.NewRun("r1", "main")
	run.Content = "some text"

	ApplyToolEvent(run, entities.ToolStreamEvent{
		Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "search",
		Args: map[string]any{"query": "go"},
	}, time.Now())

	require.Len(t, run.ToolCalls, 1)
	call := run.ToolCalls[0]
	assert.Equal(t, entities.ToolCallStatusRunning, call.Status)
	assert.Equal(t, len("some text"), call.InsertedAtContentLength)
	assert.Equal(t, "some text", call.ContentSnapshotAtStart)
}

func TestApplyToolEvent_DuplicateStartIgnored(t *testing.T) {
	run := entities.NewRun("r1", "main")
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "search"}, time.Now())

	run.Content = "grown since"
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "search"}, time.Now())

	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, 0, run.ToolCalls[0].InsertedAtContentLength)
}

func TestApplyToolEvent_UpdateOverlaysPartialResult(t *testing.T) {
	run := entities.NewRun("r1", "main")
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "exec"}, time.Now())
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseUpdate, ToolCallID: "t1", PartialResult: "50%"}, time.Now())

	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, "50%", run.ToolCalls[0].Result)
	assert.Equal(t, entities.ToolCallStatusRunning, run.ToolCalls[0].Status)
}

func TestApplyToolEvent_ResultCompletes(t *testing.T) {
	run := entities.NewRun("r1", "main")
	now := time.Now()
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "exec"}, now)
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseResult, ToolCallID: "t1", Result: "done"}, now.Add(time.Second))

	call := run.ToolCalls[0]
	assert.Equal(t, entities.ToolCallStatusComplete, call.Status)
	assert.Equal(t, "done", call.Result)
	assert.Equal(t, now.Add(time.Second), call.CompletedAt)
}

func TestApplyToolEvent_ErrorResult(t *testing.T) {
	run := entities.NewRun("r1", "main")
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseStart, ToolCallID: "t1", Name: "exec"}, time.Now())
	ApplyToolEvent(run, entities.ToolStreamEvent{Phase: entities.ToolPhaseResult, ToolCallID: "t1", Result: "exit 1", IsError: true}, time.Now())

	assert.Equal(t, entities.ToolCallStatusError, run.ToolCalls[0].Status)
	assert.Equal(t, "exit 1", run.ToolCalls[0].Result)
}

func TestApplyToolEvent_ResultBeforeStartSynthesizes(t *testing.T) {
	run := entities.NewRun("r1", "main")
	run.Content = "text so far"

	ApplyToolEvent(run, entities.ToolStreamEvent{
		Phase: entities.ToolPhaseResult, ToolCallID: "t1", Name: "search", Result: "late",
	}, time.Now())

	require.Len(t, run.ToolCalls, 1)
	call := run.ToolCalls[0]
	assert.Equal(t, entities.ToolCallStatusComplete, call.Status)
	assert.Equal(t, "late", call.Result)
	assert.Equal(t, len("text so far"), call.InsertedAtContentLength)
}
