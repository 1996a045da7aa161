package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

// DispatchEvent is published on the bus for each channel attempt.
type DispatchEvent struct {
	Channel   string `json:"channel"`
	ProjectID string `json:"project_id"`
	EventName string `json:"event_name"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Dispatcher struct {
	reg *Registry
	log logx.Logger
	bus eventbus.Bus
}

func NewDispatcher(reg *Registry, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if reg == nil {
		reg = NewRegistry()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Dispatcher{reg: reg, log: log, bus: bus}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

type outcome struct {
	name string
	err  error
}

// Notify delivers msg to every named channel concurrently and waits for all
// of them to settle.
func (d *Dispatcher) Notify(ctx context.Context, names []string, msg Message) (Report, error) {
	var rep Report
	names = NormalizeNames(names)
	if len(names) == 0 {
		return rep, nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	type target struct {
		name string
		ch   Channel
	}
	targets := make([]target, 0, len(names))
	for _, n := range names {
		ch, ok := d.reg.Lookup(n)
		if !ok {
			d.log.Warn("notification channel not configured; skipping",
				logx.String("channel", n), logx.String("project_id", msg.ProjectID), logx.Err(ErrUnconfiguredChannel))
			d.skip(&rep, n, msg, "unconfigured")
			continue
		}
		if p, ok := ch.(Pauser); ok && p.IsPaused(msg.ProjectID) {
			d.log.Debug("channel paused; skipping", logx.String("channel", n), logx.String("project_id", msg.ProjectID))
			d.skip(&rep, n, msg, "paused")
			continue
		}
		targets = append(targets, target{name: n, ch: ch})
	}

	results := make(chan outcome, len(targets))
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			results <- outcome{name: t.name, err: d.sendOne(ctx, t.ch, msg)}
		}(t)
	}
	wg.Wait()
	close(results)

	var errs []error
	for r := range results {
		if r.err != nil {
			rep.Failed = append(rep.Failed, r.name)
			errs = append(errs, &DeliveryError{Channel: r.name, Err: r.err})
			d.log.Warn("notification delivery failed", logx.String("channel", r.name), logx.String("project_id", msg.ProjectID), logx.Err(r.err))
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: DispatchEvent{Channel: r.name, ProjectID: msg.ProjectID, EventName: msg.EventName, Error: r.err.Error()}})
			continue
		}
		rep.Sent = append(rep.Sent, r.name)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: DispatchEvent{Channel: r.name, ProjectID: msg.ProjectID, EventName: msg.EventName}})
	}
	return rep, errors.Join(errs...)
}

func (d *Dispatcher) sendOne(ctx context.Context, ch Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("channel panicked")
			d.log.Error("channel panicked", logx.String("kind", string(ch.Kind())), logx.Any("panic", r))
		}
	}()
	return ch.Send(ctx, msg)
}

func (d *Dispatcher) skip(rep *Report, name string, msg Message, reason string) {
	rep.Skipped = append(rep.Skipped, name)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySkipped, Data: DispatchEvent{Channel: name, ProjectID: msg.ProjectID, EventName: msg.EventName, Reason: reason}})
}
