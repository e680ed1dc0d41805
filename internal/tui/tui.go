package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/covehq/cove/internal/domain/entities"
	"github.com/covehq/cove/internal/domain/events"
	"github.com/covehq/cove/internal/domain/services"
)

// TUI is the terminal chat front-end. It never mutates chat state directly;
// everything goes through the chat service, and the view refreshes from the
// change events the service publishes.
type TUI struct {
	chatService services.ChatService
	sessionKey  string

	viewport  viewport.Model
	textarea  textarea.Model
	spinner   spinner.Model
	userStyle lipgloss.Style
	asstStyle lipgloss.Style
	toolStyle lipgloss.Style
	faintStyle lipgloss.Style

	messages  []*entities.Message
	runs      []*entities.Run
	queue     []*entities.QueuedMessage
	connected bool
	err       error
	width     int
	height    int

	eventCh chan tea.Msg
	unsubs  []func()
}

func NewTUI(chatService services.ChatService, sessionKey string) *TUI {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.SetWidth(30)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(30, 5)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	t := &TUI{
		chatService: chatService,
		sessionKey:  sessionKey,
		viewport:    vp,
		textarea:    ta,
		spinner:     s,
		userStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		asstStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		toolStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		faintStyle:  lipgloss.NewStyle().Faint(true),
		connected:   true,
		eventCh:     make(chan tea.Msg, 64),
	}

	t.unsubs = append(t.unsubs,
		events.SubscribeToTranscriptEvents(func(data events.TranscriptEventData) {
			t.push(transcriptMsg(data))
		}),
		events.SubscribeToRunEvents(func(data events.RunEventData) {
			t.push(runMsg(data))
		}),
		events.SubscribeToQueueEvents(func(data events.QueueEventData) {
			t.push(queueMsg(data))
		}),
		events.SubscribeToConnectionEvents(func(data events.ConnectionEventData) {
			t.push(connectionMsg(data))
		}),
	)

	return t
}

// push forwards a bus event into the tea loop; drops when the UI is behind
// rather than blocking the publisher.
func (t *TUI) push(msg tea.Msg) {
	select {
	case t.eventCh <- msg:
	default:
	}
}

func (t *TUI) waitForEvent() tea.Msg {
	return <-t.eventCh
}

func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.waitForEvent,
		func() tea.Msg {
			if err := t.chatService.LoadHistory(context.Background(), t.sessionKey); err != nil {
				return errMsg(err)
			}
			return historyLoadedMsg{}
		},
	)
}

func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		t.width, t.height = m.Width, m.Height
		t.textarea.SetWidth(m.Width - 2)
		t.viewport.Width = m.Width
		t.viewport.Height = m.Height - t.textarea.Height() - 3
		t.refresh()

	case tea.KeyMsg:
		switch m.String() {
		case "ctrl+c":
			for _, unsub := range t.unsubs {
				unsub()
			}
			return t, tea.Quit
		case "esc":
			if t.chatService.IsStreaming() {
				cmds = append(cmds, func() tea.Msg {
					if err := t.chatService.AbortChat(context.Background(), t.sessionKey); err != nil {
						return errMsg(err)
					}
					return nil
				})
			}
		case "ctrl+r":
			if id := t.lastRetryable(); id != "" {
				cmds = append(cmds, func() tea.Msg {
					return sendDoneMsg{err: t.chatService.RetryMessage(context.Background(), id)}
				})
			}
		case "enter":
			input := t.textarea.Value()
			if input == "" {
				t.err = fmt.Errorf("message cannot be empty")
				break
			}
			t.textarea.Reset()
			t.err = nil
			cmds = append(cmds, func() tea.Msg {
				_, err := t.chatService.SendMessage(context.Background(), t.sessionKey, input, "")
				return sendDoneMsg{err: err}
			})
		}

	case transcriptMsg:
		t.messages = m.Messages
		t.refresh()
		cmds = append(cmds, t.waitForEvent)
	case runMsg:
		t.runs = t.chatService.ActiveRuns()
		t.refresh()
		cmds = append(cmds, t.waitForEvent)
	case queueMsg:
		t.queue = m.Queue
		t.refresh()
		cmds = append(cmds, t.waitForEvent)
	case connectionMsg:
		t.connected = m.Connected
		cmds = append(cmds, t.waitForEvent)

	case historyLoadedMsg:
		t.messages = t.chatService.Messages()
		t.refresh()
	case sendDoneMsg:
		if m.err != nil {
			t.err = m.err
		}
	case errMsg:
		t.err = m

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		if len(t.runs) > 0 {
			t.refresh()
		}
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	t.textarea, cmd = t.textarea.Update(msg)
	cmds = append(cmds, cmd)
	t.viewport, cmd = t.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return t, tea.Batch(cmds...)
}

func (t *TUI) refresh() {
	t.viewport.SetContent(lipgloss.NewStyle().Width(t.viewport.Width).Render(t.renderTranscript()))
	t.viewport.GotoBottom()
}

// lastRetryable finds the most recent message a retry could resubmit.
func (t *TUI) lastRetryable() string {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Status == entities.MessageStatusFailed {
			return t.messages[i].ID
		}
	}
	if len(t.queue) > 0 {
		return t.queue[len(t.queue)-1].ID
	}
	return ""
}

func (t *TUI) View() string {
	status := "connected"
	if !t.connected {
		status = "offline, messages will be queued"
	}
	if t.err != nil {
		status = "error: " + t.err.Error()
	}

	return fmt.Sprintf(
		"%s\n%s\n%s",
		t.viewport.View(),
		t.textarea.View(),
		t.faintStyle.Render(status+"  ·  enter send · esc abort · ctrl+r retry · ctrl+c quit"),
	)
}
