package httpapi

import (
	"encoding/json"

	"flowwatch/internal/event"
	"flowwatch/internal/notify"
)

type IngestEventRequest struct {
	WorkflowName string          `json:"workflow_name"`
	EventName    string          `json:"event_name" binding:"required"`
	Config       event.Config    `json:"config"`
	Payload      json.RawMessage `json:"payload"`
	Services     []string        `json:"services,omitempty"`
	NextEvent    string          `json:"next_event,omitempty"`
}

type IngestEventResponse struct {
	EventID  int64         `json:"event_id"`
	Count    int           `json:"count"`
	Repeated bool          `json:"repeated"`
	Report   notify.Report `json:"report"`
}

type NotifyFailedResponse struct {
	Error   string   `json:"error"`
	EventID int64    `json:"event_id"`
	Failed  []string `json:"failed"`
}
