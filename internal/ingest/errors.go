package ingest

import (
	"fmt"
	"strings"
)

// ValidationError is returned before anything is enqueued or stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotifyError reports that the event was stored but at least one channel
// failed to deliver. The Result returned alongside it is complete.
type NotifyError struct {
	EventID int64
	Failed  []string
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("event %d stored, notify failed (%s): %v", e.EventID, strings.Join(e.Failed, ","), e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }
