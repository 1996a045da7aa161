// Package event holds the domain types shared by ingestion, storage and the
// notification channels.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes s. An empty string maps to info.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return SeverityInfo, nil
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return v, nil
	case "warning":
		return SeverityWarn, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Config is the operator-facing metadata attached to an event.
type Config struct {
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Tags        []string `json:"tags,omitempty"`
}

// Event is one stored occurrence (or collapsed run of identical occurrences)
// of a named condition within a workflow.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Name       string          `json:"name"`
	Config     Config          `json:"config"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Services   []string        `json:"services,omitempty"`
	Count      int             `json:"count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Config.Tags = append([]string(nil), e.Config.Tags...)
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	cp.Services = append([]string(nil), e.Services...)
	return &cp
}

// ChannelMapping binds a project to a Telegram chat.
type ChannelMapping struct {
	ProjectID string    `json:"project_id"`
	ChatID    int64     `json:"chat_id"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the per-chat state the Telegram adapter keeps across restarts.
type Session struct {
	ChatID           int64     `json:"chat_id"`
	EphemeralReplyID int       `json:"ephemeral_reply_id,omitempty"`
	LastCommand      string    `json:"last_command,omitempty"`
	LastCommandAt    time.Time `json:"last_command_at,omitempty"`
}
