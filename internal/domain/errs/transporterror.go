package errs

import "fmt"

// TransportError marks failures of the gateway channel itself, as opposed
// to application-level errors reported inside a successful RPC response.
type TransportError struct {
	message string
}

func (v *TransportError) Error() string {
	return v.message
}

func TransportErrorf(format string, args ...any) *TransportError {
	return &TransportError{
		message: fmt.Sprintf(format, args...),
	}
}

var _ error = &TransportError{}
