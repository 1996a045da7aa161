// Package ingest records workflow events and fans out their notifications.
//
// Every event for one (project, workflow) pair runs through a single queue
// key, so the read-compare-write that collapses repeated identical events
// into a counter never interleaves with another write to the same workflow.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowwatch/internal/event"
	"flowwatch/internal/eventbus"
	"flowwatch/internal/idgen"
	"flowwatch/internal/notify"
	"flowwatch/internal/queue"
	"flowwatch/internal/storage"
	logx "flowwatch/pkg/logx"
)

// Request is one incoming event.
type Request struct {
	ProjectID    string          `json:"project_id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	EventName    string          `json:"event_name"`
	Config       event.Config    `json:"config"`
	Payload      json.RawMessage `json:"payload"`
	Services     []string        `json:"services"`
	NextEvent    string          `json:"next_event,omitempty"`
}

// Result describes what the ingestion did.
type Result struct {
	Event *event.Event `json:"event"`
	// Repeated is true when an identical latest event was counted instead of
	// inserting a new row.
	Repeated bool          `json:"repeated"`
	Report   notify.Report `json:"report"`
}

// Notifier is the dispatch side of ingestion.
type Notifier interface {
	Notify(ctx context.Context, names []string, msg notify.Message) (notify.Report, error)
}

type Options struct {
	Store    storage.EventStore
	Queue    *queue.Queue
	Notifier Notifier
	IDs      idgen.Generator
	Log      logx.Logger
	Bus      eventbus.Bus
	// MaxPayloadBytes rejects larger payloads; 0 disables the check.
	MaxPayloadBytes int
	// DefaultServices is used when a request names no services.
	DefaultServices []string
}

type Service struct {
	store    storage.EventStore
	q        *queue.Queue
	notifier Notifier
	ids      idgen.Generator
	log      logx.Logger
	bus      eventbus.Bus

	maxPayload      int
	defaultServices []string
	now             func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if opts.Queue == nil {
		opts.Queue = queue.New(opts.Log)
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	return &Service{
		store:           opts.Store,
		q:               opts.Queue,
		notifier:        opts.Notifier,
		ids:             opts.IDs,
		log:             opts.Log.Named("ingest"),
		bus:             opts.Bus,
		maxPayload:      opts.MaxPayloadBytes,
		defaultServices: notify.NormalizeNames(opts.DefaultServices),
		now:             time.Now,
	}, nil
}

// Ingest validates req, then records and dispatches it on the queue key of
// its project and workflow. A *ValidationError means nothing was stored; a
// *NotifyError comes with a populated Result.
//
// A valid event is always recorded once queued. If ctx ends first, Ingest
// returns ctx.Err() and the event is still processed in the background.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	req, err := s.validate(req)
	if err != nil {
		return Result{}, err
	}
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := queue.Do(context.WithoutCancel(ctx), s.q, queue.Key(req.ProjectID, req.WorkflowID), func(ctx context.Context) (Result, error) {
			return s.process(ctx, req)
		})
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.res, o.err
		default:
			s.log.Warn("caller gave up; event still queued", logx.String("project_id", req.ProjectID), logx.String("event", req.EventName), logx.Err(ctx.Err()))
			return Result{}, ctx.Err()
		}
	}
}

func (s *Service) validate(req Request) (Request, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.WorkflowID = strings.TrimSpace(req.WorkflowID)
	req.EventName = strings.TrimSpace(req.EventName)
	switch {
	case req.ProjectID == "":
		return req, &ValidationError{Field: "project_id", Reason: "required"}
	case req.WorkflowID == "":
		return req, &ValidationError{Field: "workflow_id", Reason: "required"}
	case req.EventName == "":
		return req, &ValidationError{Field: "event_name", Reason: "required"}
	case strings.Contains(req.ProjectID, ":"):
		return req, &ValidationError{Field: "project_id", Reason: "must not contain ':'"}
	}
	sev, err := event.ParseSeverity(string(req.Config.Severity))
	if err != nil {
		return req, &ValidationError{Field: "config.severity", Reason: err.Error()}
	}
	req.Config.Severity = sev
	if s.maxPayload > 0 && len(req.Payload) > s.maxPayload {
		return req, &ValidationError{Field: "payload", Reason: fmt.Sprintf("exceeds %d bytes", s.maxPayload)}
	}
	p, err := event.CompactPayload(req.Payload)
	if err != nil {
		return req, &ValidationError{Field: "payload", Reason: "not valid JSON"}
	}
	req.Payload = p
	req.Services = notify.NormalizeNames(req.Services)
	if len(req.Services) == 0 {
		req.Services = s.defaultServices
	}
	return req, nil
}

func (s *Service) process(ctx context.Context, req Request) (Result, error) {
	log := s.log.With(logx.String("project_id", req.ProjectID), logx.String("workflow_id", req.WorkflowID), logx.String("event", req.EventName))

	var res Result
	latest, err := s.store.FindLatest(ctx, req.WorkflowID, req.EventName)
	if err != nil {
		return res, fmt.Errorf("find latest event: %w", err)
	}
	if latest != nil && event.SamePayload(latest.Payload, req.Payload) {
		res.Event, err = s.store.IncrementCount(ctx, latest.ID)
		if err != nil {
			return res, fmt.Errorf("increment event %d: %w", latest.ID, err)
		}
		res.Repeated = true
		log.Debug("repeated event counted", logx.Int64("id", res.Event.ID), logx.Int("count", res.Event.Count))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeEventRepeated, Data: res.Event.Clone()})
	} else {
		e := &event.Event{
			WorkflowID: req.WorkflowID,
			Name:       req.EventName,
			Config:     req.Config,
			Payload:    req.Payload,
			Services:   req.Services,
			CreatedAt:  s.now(),
		}
		if s.ids != nil {
			e.ID = s.ids.Next()
		}
		res.Event, err = s.store.Insert(ctx, e)
		if err != nil {
			return res, fmt.Errorf("insert event: %w", err)
		}
		log.Debug("event recorded", logx.Int64("id", res.Event.ID))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeEventRecorded, Data: res.Event.Clone()})
	}

	if len(req.Services) == 0 || s.notifier == nil {
		return res, nil
	}
	msg := notify.Message{
		ProjectID:    req.ProjectID,
		WorkflowName: workflowLabel(req),
		EventName:    res.Event.Name,
		Description:  req.Config.Description,
		Tags:         req.Config.Tags,
		Severity:     req.Config.Severity,
		Payload:      req.Payload,
		Timestamp:    res.Event.UpdatedAt,
		NextEvent:    req.NextEvent,
		Count:        res.Event.Count,
	}
	rep, err := s.notifier.Notify(ctx, req.Services, msg)
	res.Report = rep
	if err != nil {
		log.Warn("event stored but notification failed", logx.Int64("id", res.Event.ID), logx.Strings("failed", rep.Failed), logx.Err(err))
		return res, &NotifyError{EventID: res.Event.ID, Failed: rep.Failed, Err: err}
	}
	return res, nil
}

func workflowLabel(req Request) string {
	if n := strings.TrimSpace(req.WorkflowName); n != "" {
		return n
	}
	return req.WorkflowID
}
