package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/covehq/cove/internal/domain/entities"
	"github.com/dustin/go-humanize"
)

// renderMessageBody interleaves tool call markers into the message text at
// their recorded insertion offsets.
func renderMessageBody(content string, calls []entities.ToolCall, toolStyle lipgloss.Style) string {
	if len(calls) == 0 {
		return content
	}

	ordered := make([]entities.ToolCall, len(calls))
	copy(ordered, calls)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].InsertedAtContentLength < ordered[j].InsertedAtContentLength
	})

	var sb strings.Builder
	last := 0
	for _, call := range ordered {
		at := call.InsertedAtContentLength
		if at < last {
			at = last
		}
		if at > len(content) {
			at = len(content)
		}
		sb.WriteString(content[last:at])
		if at > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(toolStyle.Render(toolMarker(call)))
		sb.WriteString("\n")
		last = at
	}
	sb.WriteString(content[last:])
	return sb.String()
}

func toolMarker(call entities.ToolCall) string {
	switch call.Status {
	case entities.ToolCallStatusRunning, entities.ToolCallStatusPending:
		return fmt.Sprintf("⚙ %s…", call.Name)
	case entities.ToolCallStatusError:
		return fmt.Sprintf("⚙ %s ✗", call.Name)
	default:
		return fmt.Sprintf("⚙ %s ✓", call.Name)
	}
}

func statusBadge(msg *entities.Message) string {
	switch {
	case msg.Aborted:
		return " (aborted)"
	case msg.Error != "":
		return " ⚠ " + msg.Error
	case msg.Status == entities.MessageStatusQueued:
		return " (queued)"
	case msg.Status == entities.MessageStatusSending:
		return " (sending…)"
	case msg.Status == entities.MessageStatusFailed:
		return " ✗ failed, ctrl+r to retry"
	default:
		return ""
	}
}

func (t *TUI) renderTranscript() string {
	var sb strings.Builder

	for _, msg := range t.messages {
		switch msg.Role {
		case "user":
			sb.WriteString(t.userStyle.Render("You") + t.faintStyle.Render(" · "+humanize.Time(msg.Timestamp)))
			sb.WriteString(t.faintStyle.Render(statusBadge(msg)))
			sb.WriteString("\n" + msg.Content + "\n\n")
		default:
			sb.WriteString(t.asstStyle.Render("Assistant") + t.faintStyle.Render(" · "+humanize.Time(msg.Timestamp)))
			sb.WriteString(t.faintStyle.Render(statusBadge(msg)))
			sb.WriteString("\n" + renderMessageBody(msg.Content, msg.ToolCalls, t.toolStyle) + "\n\n")
		}
	}

	for _, run := range t.runs {
		sb.WriteString(t.asstStyle.Render("Assistant") + t.faintStyle.Render(" · streaming "+t.spinner.View()))
		sb.WriteString("\n" + renderMessageBody(run.Content, run.ToolCalls, t.toolStyle) + "\n\n")
	}

	for _, qm := range t.queue {
		sb.WriteString(t.userStyle.Render("You") + t.faintStyle.Render(" · queued offline"))
		sb.WriteString("\n" + qm.Content + "\n\n")
	}

	return sb.String()
}
