package notify

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps channel names to configured channels.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Channel
}

// NewRegistry registers each channel under its Kind.
func NewRegistry(chs ...Channel) *Registry {
	r := &Registry{m: map[string]Channel{}}
	for _, ch := range chs {
		if ch != nil {
			r.Register(string(ch.Kind()), ch)
		}
	}
	return r
}

func (r *Registry) Register(name string, ch Channel) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || ch == nil {
		return
	}
	r.mu.Lock()
	r.m[name] = ch
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Channel, bool) {
	r.mu.RLock()
	ch, ok := r.m[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	return ch, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
