package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowwatch/internal/event"
)

// Kind identifies a channel implementation.
type Kind string

const (
	KindTelegram Kind = "telegram"
	KindDiscord  Kind = "discord"
)

func (k Kind) Valid() bool { return k == KindTelegram || k == KindDiscord }

// Message is the channel-independent notification body.
type Message struct {
	ProjectID    string
	WorkflowName string
	EventName    string
	Description  string
	Tags         []string
	Severity     event.Severity
	Payload      json.RawMessage
	Timestamp    time.Time
	NextEvent    string
	// Count is the stored occurrence counter of the event.
	Count int
}

// Channel delivers a Message. Implementations must be safe for concurrent use.
type Channel interface {
	Kind() Kind
	Send(ctx context.Context, msg Message) error
}

// Pauser is implemented by channels that can be muted per project.
type Pauser interface {
	IsPaused(projectID string) bool
}

var ErrUnconfiguredChannel = errors.New("channel not configured")

// DeliveryError reports that one channel failed to deliver.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// Report summarizes one dispatch.
type Report struct {
	Sent    []string `json:"sent,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// NormalizeNames lowercases, trims and de-duplicates channel names,
// preserving first-seen order.
func NormalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
