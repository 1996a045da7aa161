package telegram

import (
	"sort"
	"sync"

	"flowwatch/internal/event"
)

// mappings is the in-memory projectId -> chat view of the mapping store.
type mappings struct {
	mu sync.RWMutex
	m  map[string]event.ChannelMapping
}

func newMappings() *mappings { return &mappings{m: map[string]event.ChannelMapping{}} }

func (m *mappings) get(projectID string) (event.ChannelMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[projectID]
	return v, ok
}

func (m *mappings) put(v event.ChannelMapping) {
	m.mu.Lock()
	m.m[v.ProjectID] = v
	m.mu.Unlock()
}

// remove deletes projectID and reports whether it was present.
func (m *mappings) remove(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.m[projectID]
	delete(m.m, projectID)
	return ok
}

func (m *mappings) replace(all []event.ChannelMapping) {
	next := make(map[string]event.ChannelMapping, len(all))
	for _, v := range all {
		next[v.ProjectID] = v
	}
	m.mu.Lock()
	m.m = next
	m.mu.Unlock()
}

// projectsFor returns the sorted project ids mapped to chatID.
func (m *mappings) projectsFor(chatID int64) []string {
	m.mu.RLock()
	var out []string
	for id, v := range m.m {
		if v.ChatID == chatID {
			out = append(out, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// chats returns every distinct destination chat.
func (m *mappings) chats() []int64 {
	m.mu.RLock()
	seen := make(map[int64]struct{}, len(m.m))
	out := make([]int64, 0, len(m.m))
	for _, v := range m.m {
		if _, ok := seen[v.ChatID]; ok {
			continue
		}
		seen[v.ChatID] = struct{}{}
		out = append(out, v.ChatID)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *mappings) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}
