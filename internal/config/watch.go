package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "flowwatch/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second

	fileChanged = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
)

// Watch reloads the file after it changes until ctx ends. Bursts of events
// collapse into one reload. A failed watcher is rebuilt after a backoff.
func (m *Manager) Watch(ctx context.Context) error {
	d := &debouncer{wait: m.debounce, fn: m.reloadAndLog}
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, d, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher failed; retrying", logx.Err(err), logx.Duration("in", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher on the file's directory, so that
// editors that save by rename are seen. onReady fires once it is set up.
func (m *Manager) watchOnce(ctx context.Context, d *debouncer, onReady func()) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	onReady()
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event stream closed")
			}
			if ev.Op&fileChanged != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				d.trigger()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

func (m *Manager) reloadAndLog() {
	cfg, err := m.reload()
	switch {
	case errors.Is(err, errUnchanged):
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
	case err != nil:
		m.log.Warn("config reload rejected; keeping current", logx.String("path", m.path), logx.Err(err))
	default:
		m.log.Info("config reloaded", logx.String("path", m.path), logx.String("level", cfg.Logging.Level))
	}
}

// debouncer runs fn once wait has passed since the last trigger.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
