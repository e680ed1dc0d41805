package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/covehq/cove/internal/domain/entities"
	errors "github.com/covehq/cove/internal/domain/errs"
	"github.com/covehq/cove/internal/domain/events"
	"github.com/covehq/cove/internal/domain/interfaces"

	"go.uber.org/zap"
)

const (
	historyLimit  = 200
	sendTimeoutMs = 60000
)

type ChatService interface {
	InitChat(ctx context.Context) error
	CleanupChat()
	SendMessage(ctx context.Context, sessionKey, text, messageID string) (string, error)
	RetryMessage(ctx context.Context, messageID string) error
	AbortChat(ctx context.Context, sessionKey string) error
	LoadHistory(ctx context.Context, sessionKey string) error
	ReloadHistory(ctx context.Context, sessionKey string) error
	ProcessMessageQueue(ctx context.Context)
	Messages() []*entities.Message
	ActiveRuns() []*entities.Run
	MessageQueue() []*entities.QueuedMessage
	IsStreaming() bool
}

// chatService owns the transcript, the active-run set, and the offline
// queue. Gateway events are folded in on a single dispatcher goroutine;
// user-facing operations mutate the same state under the mutex. Finalized
// messages are treated as immutable: status changes replace the entry.
type chatService struct {
	gateway   interfaces.Gateway
	queueRepo interfaces.QueueRepository
	logger    *zap.Logger

	mu       sync.Mutex
	messages []*entities.Message
	runs     map[string]*entities.Run
	queue    []*entities.QueuedMessage
	thinking string

	tasks   chan func()
	done    chan struct{}
	started bool
	unsubs  []func()
}

func NewChatService(gateway interfaces.Gateway, queueRepo interfaces.QueueRepository, logger *zap.Logger) *chatService {
	return &chatService{
		gateway:   gateway,
		queueRepo: queueRepo,
		logger:    logger,
		runs:      make(map[string]*entities.Run),
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
}

func (s *chatService) InitChat(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.queueRepo != nil {
		queue, err := s.queueRepo.LoadQueue(ctx)
		if err != nil {
			s.logger.Warn("Failed to load persisted message queue", zap.Error(err))
		} else if len(queue) > 0 {
			s.mu.Lock()
			s.queue = queue
			snapshot := s.queueSnapshotLocked()
			s.mu.Unlock()
			events.PublishQueueEvent(snapshot)
		}
	}

	go s.dispatchLoop()

	unsubs := []func(){
		s.gateway.On("chat", s.handleChatPayload),
		s.gateway.On("agent", s.handleAgentPayload),
		s.gateway.OnConnect(func() {
			go s.ProcessMessageQueue(context.Background())
		}),
	}
	s.mu.Lock()
	s.unsubs = unsubs
	s.mu.Unlock()
	return nil
}

func (s *chatService) CleanupChat() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	close(s.done)
}

// dispatchLoop serializes all event processing. There is exactly one
// writer goroutine for run state, so ordering within a run follows task
// submission order.
func (s *chatService) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}

func (s *chatService) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

func (s *chatService) handleChatPayload(payload json.RawMessage) {
	var ev entities.ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.Warn("Ignoring undecodable chat event", zap.Error(err))
		return
	}
	if err := ev.Validate(); err != nil {
		s.logger.Warn("Ignoring malformed chat event", zap.Error(err))
		return
	}
	s.post(func() { s.applyChatEvent(ev) })
}

func (s *chatService) handleAgentPayload(payload json.RawMessage) {
	var ev entities.AgentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.Warn("Ignoring undecodable agent event", zap.Error(err))
		return
	}
	if ev.Stream != "tool" {
		return
	}
	if err := ev.Validate(); err != nil {
		s.logger.Warn("Ignoring malformed agent event", zap.Error(err))
		return
	}
	if ev.Data.Phase == entities.ToolPhaseStart {
		// Tool starts run one dispatcher hop behind, so a text delta that
		// is already queued for this run lands in the buffer before the
		// insertion offset is captured.
		s.post(func() {
			s.post(func() { s.applyToolEvent(ev) })
		})
		return
	}
	s.post(func() { s.applyToolEvent(ev) })
}

func (s *chatService) applyChatEvent(ev entities.ChatEvent) {
	switch ev.State {
	case entities.ChatEventDelta:
		s.applyDelta(ev)
	case entities.ChatEventFinal:
		s.finishRun(ev, entities.RunStatusCompleted)
	case entities.ChatEventAborted:
		s.finishRun(ev, entities.RunStatusAborted)
	case entities.ChatEventError:
		s.finishRun(ev, entities.RunStatusError)
	}
}

func (s *chatService) applyDelta(ev entities.ChatEvent) {
	var text string
	if ev.Message != nil {
		text = entities.ParseMessageContent(ev.Message.Content).Text
	}

	s.mu.Lock()
	run := s.ensureRunLocked(ev.RunID)
	run.Content, run.LastBlockStart = MergeDeltaText(run.Content, text, run.LastBlockStart)
	snapshot := copyRun(run)
	s.mu.Unlock()

	events.PublishRunEvent(ev.RunID, snapshot)
}

func (s *chatService) applyToolEvent(ev entities.AgentEvent) {
	s.mu.Lock()
	run := s.ensureRunLocked(ev.RunID)
	ApplyToolEvent(run, ev.Data, time.Now())
	snapshot := copyRun(run)
	s.mu.Unlock()

	events.PublishRunEvent(ev.RunID, snapshot)
}

// finishRun folds a terminal event into a Message and removes the run from
// the active set. Aborted runs keep whatever partial content and tool calls
// they had; errored runs surface the error text inline.
func (s *chatService) finishRun(ev entities.ChatEvent, status entities.RunStatus) {
	s.mu.Lock()
	run := s.ensureRunLocked(ev.RunID)
	run.Status = status
	msg := foldRun(run, ev)
	delete(s.runs, ev.RunID)

	switch status {
	case entities.RunStatusAborted:
		msg.Aborted = true
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			msg = nil // nothing was produced, nothing to freeze
		}
	case entities.RunStatusError:
		msg.Error = ev.ErrorMessage
		if msg.Error == "" {
			msg.Error = "run failed"
		}
	}

	var transcript []*entities.Message
	if msg != nil {
		s.messages = append(s.messages, msg)
		transcript = s.messagesSnapshotLocked()
	}
	sessionKey := run.SessionKey
	s.mu.Unlock()

	events.PublishRunEvent(ev.RunID, nil)
	if transcript != nil {
		events.PublishTranscriptEvent(sessionKey, transcript)
	}
}

// foldRun converts a terminal run into a displayable Message. The final
// event's own content wins when it is at least as long as the accumulated
// buffer, since it may carry authoritative tool insertion offsets; shorter
// final text is merged like any other delta. Transient snapshots are
// stripped, lingering tools forced complete, and offsets clamped to the
// content length.
func foldRun(run *entities.Run, ev entities.ChatEvent) *entities.Message {
	now := time.Now()
	content := run.Content
	lastBlockStart := run.LastBlockStart

	var finalTools []entities.ToolCall
	if ev.Message != nil {
		parsed := entities.ParseMessageContent(ev.Message.Content)
		if parsed.Text != "" && len(parsed.Text) >= len(content) {
			content = parsed.Text
			finalTools = parsed.ToolCalls
		} else if parsed.Text != "" {
			content, _ = MergeDeltaText(content, parsed.Text, lastBlockStart)
		}
	}

	tools := make([]entities.ToolCall, len(run.ToolCalls))
	copy(tools, run.ToolCalls)

	for _, ft := range finalTools {
		found := false
		for i := range tools {
			if tools[i].ID == ft.ID {
				tools[i].InsertedAtContentLength = ft.InsertedAtContentLength
				if tools[i].Name == "" {
					tools[i].Name = ft.Name
				}
				if tools[i].Args == nil {
					tools[i].Args = ft.Args
				}
				found = true
				break
			}
		}
		if !found {
			// Streamed tool events were missed entirely; trust the final.
			ft.Status = entities.ToolCallStatusComplete
			ft.CompletedAt = now
			tools = append(tools, ft)
		}
	}

	for i := range tools {
		switch tools[i].Status {
		case entities.ToolCallStatusRunning, entities.ToolCallStatusPending:
			tools[i].Status = entities.ToolCallStatusComplete
			if tools[i].CompletedAt.IsZero() {
				tools[i].CompletedAt = now
			}
		}
		if tools[i].InsertedAtContentLength > len(content) {
			tools[i].InsertedAtContentLength = len(content)
		}
		tools[i].ContentSnapshotAtStart = ""
	}
	sort.SliceStable(tools, func(i, j int) bool {
		return tools[i].InsertedAtContentLength < tools[j].InsertedAtContentLength
	})

	ts := now
	if ev.Message != nil && !ev.Message.Time().IsZero() {
		ts = ev.Message.Time()
	}

	return &entities.Message{
		ID:         entities.AssistantMessageID(run.RunID),
		Role:       "assistant",
		Content:    content,
		ToolCalls:  tools,
		Timestamp:  ts,
		SessionKey: run.SessionKey,
	}
}

// ensureRunLocked returns the active run, lazily creating one when an event
// references a run this process has never seen. That happens after a client
// restart mid-stream and is expected, not an error; the recovered run's
// session is unknown.
func (s *chatService) ensureRunLocked(runID string) *entities.Run {
	run, ok := s.runs[runID]
	if !ok {
		run = entities.NewRun(runID, entities.UnknownSessionKey)
		s.runs[runID] = run
		s.logger.Info("Recovered run from unknown runId", zap.String("run_id", runID))
	}
	return run
}

func (s *chatService) startRunLocked(runID, sessionKey string) *entities.Run {
	if run, ok := s.runs[runID]; ok {
		if run.SessionKey == entities.UnknownSessionKey {
			run.SessionKey = sessionKey
		}
		return run
	}
	run := entities.NewRun(runID, sessionKey)
	s.runs[runID] = run
	return run
}

// SendMessage submits one user turn and returns its idempotency key. A
// non-empty messageID means a retry: the key embedded in the id is reused
// so the gateway can deduplicate. Disconnected sends go on the offline
// queue; sends issued while a run is streaming are marked queued as a
// backpressure signal but still submitted immediately, since the gateway
// serializes turns per session itself.
func (s *chatService) SendMessage(ctx context.Context, sessionKey, text, messageID string) (string, error) {
	if sessionKey == "" {
		return "", errors.ValidationErrorf("session key is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.ValidationErrorf("message text is required")
	}

	key := entities.IdempotencyKey(messageID)
	if key == "" {
		key = entities.NewIdempotencyKey()
	}
	id := entities.UserMessageID(key)

	if !s.gateway.Connected() {
		s.enqueueOffline(ctx, id, sessionKey, text)
		return key, nil
	}

	s.mu.Lock()
	status := entities.MessageStatusSending
	if len(s.runs) > 0 {
		status = entities.MessageStatusQueued
	}
	s.upsertUserMessageLocked(id, sessionKey, text, status)
	transcript := s.messagesSnapshotLocked()
	thinking := s.thinking
	s.mu.Unlock()
	events.PublishTranscriptEvent(sessionKey, transcript)

	params := map[string]any{
		"sessionKey":     sessionKey,
		"message":        text,
		"idempotencyKey": key,
		"timeoutMs":      sendTimeoutMs,
	}
	if thinking != "" {
		params["thinking"] = thinking
	}

	var res entities.SendResult
	if err := s.gateway.Call(ctx, "chat.send", params, &res); err != nil {
		s.markMessage(id, entities.MessageStatusFailed, err.Error())
		s.failRunIfActive(key, err.Error())
		return "", err
	}
	if res.Status == "error" {
		summary := res.Summary
		if summary == "" {
			summary = "send rejected by gateway"
		}
		s.markMessage(id, entities.MessageStatusFailed, summary)
		return "", errors.InternalErrorf("%s", summary)
	}

	s.markMessage(id, entities.MessageStatusSent, "")

	s.mu.Lock()
	run := s.startRunLocked(key, sessionKey)
	snapshot := copyRun(run)
	s.mu.Unlock()
	events.PublishRunEvent(key, snapshot)

	return key, nil
}

// RetryMessage re-sends a message found either on the offline queue or
// among failed transcript entries, reusing its original idempotency key so
// the gateway never double-executes a turn it already completed.
func (s *chatService) RetryMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.ValidationErrorf("message ID is required")
	}

	var sessionKey, content string
	found := false
	dequeued := false

	s.mu.Lock()
	for i, qm := range s.queue {
		if qm.ID == messageID {
			sessionKey, content = qm.SessionKey, qm.Content
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			found, dequeued = true, true
			break
		}
	}
	if !found {
		for _, m := range s.messages {
			if m.ID == messageID && m.Status == entities.MessageStatusFailed {
				sessionKey, content = m.SessionKey, m.Content
				found = true
				break
			}
		}
	}
	var snapshot []*entities.QueuedMessage
	if dequeued {
		snapshot = s.queueSnapshotLocked()
	}
	s.mu.Unlock()

	if dequeued {
		s.persistQueue(ctx, snapshot)
		events.PublishQueueEvent(snapshot)
	}
	if !found {
		return errors.NotFoundErrorf("message not found or not retryable: %s", messageID)
	}

	_, err := s.SendMessage(ctx, sessionKey, content, messageID)
	return err
}

// ProcessMessageQueue flushes the offline queue in submission order. A
// failing entry is logged and skipped so it cannot block the rest; failed
// entries end up as retryable transcript messages.
func (s *chatService) ProcessMessageQueue(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.persistQueue(ctx, nil)
	events.PublishQueueEvent(nil)

	for _, qm := range pending {
		if _, err := s.SendMessage(ctx, qm.SessionKey, qm.Content, qm.ID); err != nil {
			s.logger.Warn("Failed to flush queued message",
				zap.String("message_id", qm.ID),
				zap.Error(err))
		}
	}
}

// AbortChat asks the gateway to cancel the session's in-flight run. Local
// state is not touched here; the run transitions only when the gateway's
// aborted event arrives.
func (s *chatService) AbortChat(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return errors.ValidationErrorf("session key is required")
	}

	var runID string
	s.mu.Lock()
	for id, run := range s.runs {
		if run.SessionKey == sessionKey || run.SessionKey == entities.UnknownSessionKey {
			runID = id
			break
		}
	}
	s.mu.Unlock()

	params := map[string]any{"sessionKey": sessionKey}
	if runID != "" {
		params["runId"] = runID
	}
	if err := s.gateway.Call(ctx, "chat.abort", params, nil); err != nil {
		s.logger.Warn("Abort request failed", zap.String("session_key", sessionKey), zap.Error(err))
		return err
	}
	return nil
}

// LoadHistory replaces the transcript with the normalized session history.
func (s *chatService) LoadHistory(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return errors.ValidationErrorf("session key is required")
	}

	params := map[string]any{"sessionKey": sessionKey, "limit": historyLimit}
	var res entities.HistoryResult
	if err := s.gateway.Call(ctx, "chat.history", params, &res); err != nil {
		return err
	}

	messages := NormalizeHistory(res.Messages)
	for _, m := range messages {
		m.SessionKey = sessionKey
		if m.Role == "user" {
			m.Status = entities.MessageStatusSent
		}
	}

	s.mu.Lock()
	s.messages = messages
	if res.ThinkingLevel != "" {
		s.thinking = res.ThinkingLevel
	}
	transcript := s.messagesSnapshotLocked()
	s.mu.Unlock()

	events.PublishTranscriptEvent(sessionKey, transcript)
	return nil
}

func (s *chatService) ReloadHistory(ctx context.Context, sessionKey string) error {
	return s.LoadHistory(ctx, sessionKey)
}

func (s *chatService) Messages() []*entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesSnapshotLocked()
}

func (s *chatService) ActiveRuns() []*entities.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]*entities.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

func (s *chatService) MessageQueue() []*entities.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSnapshotLocked()
}

func (s *chatService) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs) > 0
}

func (s *chatService) enqueueOffline(ctx context.Context, id, sessionKey, text string) {
	s.mu.Lock()
	exists := false
	for _, qm := range s.queue {
		if qm.ID == id {
			exists = true
			break
		}
	}
	if !exists {
		s.queue = append(s.queue, &entities.QueuedMessage{
			ID:         id,
			SessionKey: sessionKey,
			Content:    text,
			Timestamp:  time.Now(),
		})
	}
	snapshot := s.queueSnapshotLocked()
	s.mu.Unlock()

	s.persistQueue(ctx, snapshot)
	events.PublishQueueEvent(snapshot)
}

// upsertUserMessageLocked inserts or replaces the transcript entry for this
// send. Retries reuse the id, so a failed entry is replaced in place rather
// than duplicated.
func (s *chatService) upsertUserMessageLocked(id, sessionKey, text string, status entities.MessageStatus) {
	msg := entities.NewUserMessage(entities.IdempotencyKey(id), sessionKey, text)
	msg.Status = status
	for i, m := range s.messages {
		if m.ID == id {
			msg.Timestamp = m.Timestamp
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
}

// markMessage replaces the entry with an updated copy; published transcript
// snapshots stay immutable.
func (s *chatService) markMessage(id string, status entities.MessageStatus, errText string) {
	s.mu.Lock()
	var sessionKey string
	var transcript []*entities.Message
	for i, m := range s.messages {
		if m.ID == id {
			updated := *m
			updated.Status = status
			updated.Error = errText
			s.messages[i] = &updated
			sessionKey = m.SessionKey
			transcript = s.messagesSnapshotLocked()
			break
		}
	}
	s.mu.Unlock()

	if transcript != nil {
		events.PublishTranscriptEvent(sessionKey, transcript)
	}
}

// failRunIfActive folds an already-started run into an errored message when
// the originating send fails at the transport layer.
func (s *chatService) failRunIfActive(runID, errText string) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return
	}
	run.Status = entities.RunStatusError
	msg := foldRun(run, entities.ChatEvent{RunID: runID, State: entities.ChatEventError})
	msg.Error = errText
	delete(s.runs, runID)
	s.messages = append(s.messages, msg)
	transcript := s.messagesSnapshotLocked()
	sessionKey := run.SessionKey
	s.mu.Unlock()

	events.PublishRunEvent(runID, nil)
	events.PublishTranscriptEvent(sessionKey, transcript)
}

func (s *chatService) persistQueue(ctx context.Context, queue []*entities.QueuedMessage) {
	if s.queueRepo == nil {
		return
	}
	if err := s.queueRepo.SaveQueue(ctx, queue); err != nil {
		s.logger.Warn("Failed to persist message queue", zap.Error(err))
	}
}

func (s *chatService) messagesSnapshotLocked() []*entities.Message {
	snapshot := make([]*entities.Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

func (s *chatService) queueSnapshotLocked() []*entities.QueuedMessage {
	snapshot := make([]*entities.QueuedMessage, len(s.queue))
	copy(snapshot, s.queue)
	return snapshot
}

func copyRun(run *entities.Run) *entities.Run {
	dup := *run
	dup.ToolCalls = make([]entities.ToolCall, len(run.ToolCalls))
	copy(dup.ToolCalls, run.ToolCalls)
	return &dup
}

var _ ChatService = (*chatService)(nil)
