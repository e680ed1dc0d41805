package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TextBlockSeparator joins text blocks that were split by a tool call
// in the middle of an assistant turn.
const TextBlockSeparator = "\n\n"

type MessageStatus string

const (
	MessageStatusSending MessageStatus = "sending"
	MessageStatusQueued  MessageStatus = "queued"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

type ToolCallStatus string

const (
	ToolCallStatusPending  ToolCallStatus = "pending"
	ToolCallStatusRunning  ToolCallStatus = "running"
	ToolCallStatusComplete ToolCallStatus = "complete"
	ToolCallStatusError    ToolCallStatus = "error"
)

// ToolCall is one tool invocation inside an assistant turn.
// InsertedAtContentLength is the offset into the owning message's text at
// which the call renders inline. ContentSnapshotAtStart is transient and
// must never survive into a finalized Message.
type ToolCall struct {
	ID                      string         `json:"id"`
	Name                    string         `json:"name"`
	Args                    map[string]any `json:"args,omitempty"`
	Status                  ToolCallStatus `json:"status"`
	Result                  string         `json:"result,omitempty"`
	StartedAt               time.Time      `json:"started_at,omitempty"`
	CompletedAt             time.Time      `json:"completed_at,omitempty"`
	InsertedAtContentLength int            `json:"inserted_at_content_length"`
	ContentSnapshotAtStart  string         `json:"-"`
}

type Message struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status,omitempty"`
	SessionKey string        `json:"session_key,omitempty"`
	Error      string        `json:"error,omitempty"`
	Aborted    bool          `json:"aborted,omitempty"`
}

// NewUserMessage builds a user turn whose id embeds the idempotency key,
// so retries of the same logical send reuse the same id.
func NewUserMessage(idempotencyKey, sessionKey, content string) *Message {
	return &Message{
		ID:         UserMessageID(idempotencyKey),
		Role:       "user",
		Content:    content,
		Timestamp:  time.Now(),
		SessionKey: sessionKey,
	}
}

func UserMessageID(idempotencyKey string) string {
	return "user_" + idempotencyKey
}

func AssistantMessageID(runID string) string {
	return "assistant_" + runID
}

// IdempotencyKey recovers the send key from a user message id.
func IdempotencyKey(messageID string) string {
	return strings.TrimPrefix(messageID, "user_")
}

func NewIdempotencyKey() string {
	return uuid.New().String()
}

type RunStatus string

const (
	RunStatusStreaming RunStatus = "streaming"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusError     RunStatus = "error"
)

const UnknownSessionKey = "unknown"

// Run is an in-flight assistant turn being assembled from gateway events.
// SessionKey is "unknown" when the run was reconstructed from an event that
// referenced a run started before this process attached.
type Run struct {
	RunID          string     `json:"run_id"`
	SessionKey     string     `json:"session_key"`
	Content        string     `json:"content"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	LastBlockStart int        `json:"last_block_start"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
}

func NewRun(runID, sessionKey string) *Run {
	return &Run{
		RunID:      runID,
		SessionKey: sessionKey,
		Status:     RunStatusStreaming,
		StartedAt:  time.Now(),
	}
}

// FindToolCall returns the index of the tool call with the given id, or -1.
func (r *Run) FindToolCall(id string) int {
	for i := range r.ToolCalls {
		if r.ToolCalls[i].ID == id {
			return i
		}
	}
	return -1
}

// QueuedMessage is a user message waiting for connectivity. Its ID is the
// same user_<key> id the transcript entry will carry, which keeps retries
// idempotent at the UI layer.
type QueuedMessage struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
