package logtail

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrAlreadyStarted is returned by Start on a session that was started before
	ErrAlreadyStarted = errors.New("log tail session already started")

	// ErrStopped is returned by Start on a stopped session
	ErrStopped = errors.New("log tail session stopped")

	// ErrMissingLogType is returned by Start when no log type is given
	ErrMissingLogType = errors.New("log type is required")
)

// PrefetchError reports a failed bulk retrieval. The live tail keeps running.
type PrefetchError struct {
	LogType string
	Domain  string
	Err     error
}

func (e *PrefetchError) Error() string {
	scope := e.LogType
	if e.Domain != "" {
		scope += "@" + e.Domain
	}
	return fmt.Sprintf("prefetch %s logs: %v", scope, e.Err)
}

func (e *PrefetchError) Unwrap() error {
	return e.Err
}

// MalformedMessageError reports a live frame that was dropped
type MalformedMessageError struct {
	Reason string
	Raw    string
}

func (e *MalformedMessageError) Error() string {
	raw := e.Raw
	if len(raw) > 64 {
		raw = raw[:64] + "..."
	}
	return "malformed log message (" + e.Reason + "): " + strconv.Quote(raw)
}

// ServerNotice is an error message pushed by the panel on the log channel in
// place of a log line, for example when the requested log file is missing.
type ServerNotice struct {
	Message string
}

func (e *ServerNotice) Error() string {
	return "server: " + e.Message
}
