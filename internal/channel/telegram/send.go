package telegram

import (
	"context"
	"errors"
	"fmt"

	"flowwatch/internal/notify"
	"flowwatch/internal/queue"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Send delivers msg to the chat mapped to msg.ProjectID. Unmapped and paused
// projects are skipped without any network call.
//
// Repeats of the same event name edit the previous message in place with an
// incremented counter. Updates for one (project, event) pair are serialized.
func (a *Adapter) Send(ctx context.Context, msg notify.Message) error {
	if err := a.running(); err != nil {
		return err
	}
	if _, ok := a.maps.get(msg.ProjectID); !ok {
		a.log.Debug("no chat mapped; skipping", logx.String("project_id", msg.ProjectID))
		return nil
	}
	if a.IsPaused(msg.ProjectID) {
		a.log.Debug("project paused; skipping", logx.String("project_id", msg.ProjectID))
		return nil
	}
	key := trackKey(msg.ProjectID, msg.EventName)
	_, err := queue.Do(ctx, a.trackQ, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.deliver(ctx, key, msg)
	})
	return err
}

func (a *Adapter) deliver(ctx context.Context, key string, msg notify.Message) error {
	// The mapping may have been dropped while this task was queued.
	m, ok := a.maps.get(msg.ProjectID)
	if !ok {
		return nil
	}
	to := kit.ChatTarget{ChatID: m.ChatID}

	if prev, ok := a.tracker.get(key); ok && prev.Ref.ChatID == m.ChatID {
		counter := prev.Counter + 1
		err := a.tr.EditText(ctx, prev.Ref, formatMessage(msg, counter), htmlOpts)
		switch {
		case err == nil, errors.Is(err, kit.ErrMessageNotModified):
			a.tracker.set(key, trackEntry{Ref: prev.Ref, Counter: counter})
			return nil
		case errors.Is(err, kit.ErrUnreachable):
			a.dropMapping(ctx, msg.ProjectID, err)
			return fmt.Errorf("edit message: %w", err)
		case errors.Is(err, kit.ErrMessageGone):
			a.log.Debug("tracked message gone; sending new", logx.String("project_id", msg.ProjectID), logx.String("event", msg.EventName))
		default:
			return fmt.Errorf("edit message: %w", err)
		}
	}

	ref, err := a.tr.SendText(ctx, to, formatMessage(msg, 1), htmlOpts)
	if err != nil {
		if errors.Is(err, kit.ErrUnreachable) {
			a.dropMapping(ctx, msg.ProjectID, err)
		}
		return fmt.Errorf("send message: %w", err)
	}
	a.tracker.set(key, trackEntry{Ref: ref, Counter: 1})
	return nil
}
