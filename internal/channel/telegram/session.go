package telegram

import (
	"context"
	"sync"
	"time"

	"flowwatch/internal/event"
	"flowwatch/internal/storage"
	kit "flowwatch/internal/transport"
	logx "flowwatch/pkg/logx"
)

// sessions caches per-chat state in front of the session store.
type sessions struct {
	store storage.SessionStore

	mu    sync.Mutex
	cache map[int64]event.Session
}

func newSessions(store storage.SessionStore) *sessions {
	return &sessions{store: store, cache: map[int64]event.Session{}}
}

func (s *sessions) get(ctx context.Context, chatID int64) (event.Session, error) {
	s.mu.Lock()
	if v, ok := s.cache[chatID]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, ok, err := s.store.GetSession(ctx, chatID)
	if err != nil {
		return event.Session{}, err
	}
	if !ok {
		v = event.Session{ChatID: chatID}
	}
	s.mu.Lock()
	s.cache[chatID] = v
	s.mu.Unlock()
	return v, nil
}

// update applies fn to the session of chatID and persists the result.
func (s *sessions) update(ctx context.Context, chatID int64, fn func(*event.Session)) error {
	v, err := s.get(ctx, chatID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if cur, ok := s.cache[chatID]; ok {
		v = cur
	}
	fn(&v)
	s.cache[chatID] = v
	s.mu.Unlock()
	return s.store.PutSession(ctx, v)
}

func (a *Adapter) recordCommand(ctx context.Context, chatID int64, name string) {
	err := a.sessions.update(ctx, chatID, func(s *event.Session) {
		s.LastCommand = name
		s.LastCommandAt = a.now()
	})
	if err != nil {
		a.log.Warn("session save failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// replyEphemeral sends text and deletes it after the configured TTL. The
// message id is persisted so a restart can still clean it up.
func (a *Adapter) replyEphemeral(ctx context.Context, to kit.ChatTarget, text string) {
	ref, err := a.tr.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		a.log.Warn("error reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return
	}
	if err := a.sessions.update(ctx, to.ChatID, func(s *event.Session) { s.EphemeralReplyID = ref.MessageID }); err != nil {
		a.log.Warn("session save failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}

	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return
	}
	ttl := a.cfg.EphemeralTTL
	sup.Go0("ephemeral.delete", func(c context.Context) {
		t := time.NewTimer(ttl)
		defer t.Stop()
		select {
		case <-c.Done():
			// Left for cleanupEphemeral on next start.
			return
		case <-t.C:
		}
		a.deleteEphemeral(c, ref)
	})
}

func (a *Adapter) deleteEphemeral(ctx context.Context, ref kit.MessageRef) {
	if err := a.tr.DeleteMessage(ctx, ref); err != nil {
		a.log.Debug("ephemeral delete failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
	err := a.sessions.update(ctx, ref.ChatID, func(s *event.Session) {
		if s.EphemeralReplyID == ref.MessageID {
			s.EphemeralReplyID = 0
		}
	})
	if err != nil {
		a.log.Warn("session save failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
}

// cleanupEphemeral deletes error replies left behind by a previous process.
func (a *Adapter) cleanupEphemeral(ctx context.Context) {
	for _, chatID := range a.maps.chats() {
		s, err := a.sessions.get(ctx, chatID)
		if err != nil {
			a.log.Warn("session load failed", logx.Int64("chat_id", chatID), logx.Err(err))
			continue
		}
		if s.EphemeralReplyID != 0 {
			a.deleteEphemeral(ctx, kit.MessageRef{ChatID: chatID, MessageID: s.EphemeralReplyID})
		}
	}
}
