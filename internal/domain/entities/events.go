package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

type ChatEventState string

const (
	ChatEventDelta   ChatEventState = "delta"
	ChatEventFinal   ChatEventState = "final"
	ChatEventAborted ChatEventState = "aborted"
	ChatEventError   ChatEventState = "error"
)

// EventMessage is the message payload carried by chat events. Content is a
// structured value; use ParseMessageContent to split it into text and tool
// calls. Timestamp is epoch milliseconds, zero when absent.
type EventMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

func (m *EventMessage) Time() time.Time {
	if m == nil || m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ChatEvent is one event on a run's chat stream.
type ChatEvent struct {
	RunID        string         `json:"runId"`
	State        ChatEventState `json:"state"`
	Message      *EventMessage  `json:"message,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

func (e *ChatEvent) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("chat event missing runId")
	}
	switch e.State {
	case ChatEventDelta, ChatEventFinal, ChatEventAborted, ChatEventError:
		return nil
	default:
		return fmt.Errorf("chat event has unknown state %q", e.State)
	}
}

type ToolStreamPhase string

const (
	ToolPhaseStart  ToolStreamPhase = "start"
	ToolPhaseUpdate ToolStreamPhase = "update"
	ToolPhaseResult ToolStreamPhase = "result"
)

// ToolStreamEvent is the data of an agent event on the "tool" stream.
type ToolStreamEvent struct {
	Phase         ToolStreamPhase `json:"phase"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Name          string          `json:"name,omitempty"`
	Args          map[string]any  `json:"args,omitempty"`
	PartialResult string          `json:"partialResult,omitempty"`
	Result        string          `json:"result,omitempty"`
	IsError       bool            `json:"isError,omitempty"`
}

type AgentEvent struct {
	RunID  string          `json:"runId"`
	Stream string          `json:"stream"`
	Data   ToolStreamEvent `json:"data"`
}

func (e *AgentEvent) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("agent event missing runId")
	}
	if e.Data.ToolCallID == "" {
		return fmt.Errorf("agent tool event missing toolCallId")
	}
	switch e.Data.Phase {
	case ToolPhaseStart, ToolPhaseUpdate, ToolPhaseResult:
		return nil
	default:
		return fmt.Errorf("agent tool event has unknown phase %q", e.Data.Phase)
	}
}

// HistoryEntry is one raw entry returned by chat.history. Timestamp is
// epoch milliseconds.
type HistoryEntry struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

func (h *HistoryEntry) Time() time.Time {
	if h.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(h.Timestamp)
}

// HistoryResult is the response of chat.history.
type HistoryResult struct {
	Messages      []HistoryEntry `json:"messages"`
	ThinkingLevel string         `json:"thinkingLevel,omitempty"`
}

// SendResult is the response of chat.send.
type SendResult struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}
