package tui

import (
	"github.com/covehq/cove/internal/domain/events"
)

type (
	transcriptMsg events.TranscriptEventData
	runMsg        events.RunEventData
	queueMsg      events.QueueEventData
	connectionMsg events.ConnectionEventData
)

type (
	historyLoadedMsg struct{}
	sendDoneMsg      struct{ err error }
)

type errMsg error
