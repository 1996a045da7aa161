package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flowwatch/internal/ingest"
	logx "flowwatch/pkg/logx"
)

// Ingester is the ingestion contract the HTTP layer depends on.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

type EventHandler struct {
	svc Ingester
	log logx.Logger
}

func NewEventHandler(svc Ingester, log logx.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

func (h *EventHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug("invalid ingest request", logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Ingest(ctx, ingest.Request{
		ProjectID:    c.Param("project"),
		WorkflowID:   c.Param("workflow"),
		WorkflowName: req.WorkflowName,
		EventName:    req.EventName,
		Config:       req.Config,
		Payload:      req.Payload,
		Services:     req.Services,
		NextEvent:    req.NextEvent,
	})
	if err != nil {
		var ve *ingest.ValidationError
		var ne *ingest.NotifyError
		switch {
		case errors.As(err, &ve):
			c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
		case errors.As(err, &ne):
			h.log.Warn("event stored but not delivered", logx.Int64("event_id", ne.EventID), logx.Err(ne.Err))
			c.JSON(http.StatusBadGateway, NotifyFailedResponse{
				Error:   "event recorded, notification failed",
				EventID: ne.EventID,
				Failed:  ne.Failed,
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
		default:
			h.log.Error("failed to ingest event", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		}
		return
	}

	status := http.StatusCreated
	if res.Repeated {
		status = http.StatusOK
	}
	c.JSON(status, IngestEventResponse{
		EventID:  res.Event.ID,
		Count:    res.Event.Count,
		Repeated: res.Repeated,
		Report:   res.Report,
	})
}
