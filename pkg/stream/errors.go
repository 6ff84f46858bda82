package stream

import (
	"errors"
	"fmt"
)

// ErrExhaustedRetries is the error carried by the transition to failed
var ErrExhaustedRetries = errors.New("stream: reconnect attempts exhausted")

// TransportError reports a connection that could not be opened or dropped
// unexpectedly. It is delivered as StateChange.Err and never returned.
type TransportError struct {
	Op  string // "dial" or "read"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
