package telegram

import (
	"strings"
	"sync"

	kit "flowwatch/internal/transport"
)

// trackEntry is the last message sent for one (project, event name) pair.
type trackEntry struct {
	Ref     kit.MessageRef
	Counter int
}

type tracker struct {
	mu sync.Mutex
	m  map[string]trackEntry
}

func newTracker() *tracker { return &tracker{m: map[string]trackEntry{}} }

func trackKey(projectID, eventName string) string { return projectID + "\x00" + eventName }

func (t *tracker) get(key string) (trackEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[key]
	return e, ok
}

func (t *tracker) set(key string, e trackEntry) {
	t.mu.Lock()
	t.m[key] = e
	t.mu.Unlock()
}

func (t *tracker) clear() {
	t.mu.Lock()
	clear(t.m)
	t.mu.Unlock()
}

// clearProject drops every entry of projectID.
func (t *tracker) clearProject(projectID string) {
	prefix := projectID + "\x00"
	t.mu.Lock()
	for k := range t.m {
		if strings.HasPrefix(k, prefix) {
			delete(t.m, k)
		}
	}
	t.mu.Unlock()
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
