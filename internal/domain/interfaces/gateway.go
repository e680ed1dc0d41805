package interfaces

import (
	"context"
	"encoding/json"
)

// Gateway is the RPC channel to the remote agent gateway. Call performs a
// round-trip and decodes the result into result when non-nil. On registers a
// handler for a named event stream ("chat", "agent") and returns an
// unsubscribe function; handlers run sequentially on the gateway's read
// goroutine and must not block. OnConnect fires after every successful
// (re)connect.
type Gateway interface {
	Call(ctx context.Context, method string, params any, result any) error
	On(event string, handler func(payload json.RawMessage)) func()
	OnConnect(handler func()) func()
	Connected() bool
	Close() error
}
