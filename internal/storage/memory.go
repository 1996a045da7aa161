package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"flowwatch/internal/event"
)

// state is the in-memory model shared by the memory and file drivers.
// Callers hold the owning store's lock.
type state struct {
	Events   map[int64]*event.Event          `json:"events"`
	Latest   map[string]int64                `json:"latest"`
	Mappings map[string]event.ChannelMapping `json:"mappings"`
	Sessions map[int64]event.Session         `json:"sessions"`
	NextID   int64                           `json:"next_id"`
}

func newState() *state {
	return &state{
		Events:   map[int64]*event.Event{},
		Latest:   map[string]int64{},
		Mappings: map[string]event.ChannelMapping{},
		Sessions: map[int64]event.Session{},
	}
}

// normalize fills maps a decoded snapshot may have left nil.
func (s *state) normalize() {
	if s.Events == nil {
		s.Events = map[int64]*event.Event{}
	}
	if s.Latest == nil {
		s.Latest = map[string]int64{}
	}
	if s.Mappings == nil {
		s.Mappings = map[string]event.ChannelMapping{}
	}
	if s.Sessions == nil {
		s.Sessions = map[int64]event.Session{}
	}
}

func latestKey(workflowID, name string) string { return workflowID + "\x00" + name }

func (s *state) findLatest(workflowID, name string) *event.Event {
	id, ok := s.Latest[latestKey(workflowID, name)]
	if !ok {
		return nil
	}
	return s.Events[id].Clone()
}

// insert stores a copy of e, assigning an id and timestamps when unset.
func (s *state) insert(e *event.Event, now time.Time) *event.Event {
	cp := e.Clone()
	if cp.ID == 0 {
		s.NextID++
		cp.ID = s.NextID
	} else if cp.ID > s.NextID {
		s.NextID = cp.ID
	}
	cp.Count = 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	s.Events[cp.ID] = cp
	s.Latest[latestKey(cp.WorkflowID, cp.Name)] = cp.ID
	return cp.Clone()
}

func (s *state) increment(id int64, now time.Time) (*event.Event, error) {
	e, ok := s.Events[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.Count++
	e.UpdatedAt = now
	return e.Clone(), nil
}

func (s *state) mappings() []event.ChannelMapping {
	out := make([]event.ChannelMapping, 0, len(s.Mappings))
	for _, m := range s.Mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

func (s *state) upsertMapping(m event.ChannelMapping, now time.Time) event.ChannelMapping {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	s.Mappings[m.ProjectID] = m
	return m
}

type memoryStore struct {
	mu     sync.Mutex
	st     *state
	closed bool
	now    func() time.Time
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{st: newState(), now: time.Now}
}

func (m *memoryStore) FindLatest(ctx context.Context, workflowID, name string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.findLatest(workflowID, name), nil
}

func (m *memoryStore) Insert(ctx context.Context, e *event.Event) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.insert(e, m.now()), nil
}

func (m *memoryStore) IncrementCount(ctx context.Context, id int64) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.increment(id, m.now())
}

func (m *memoryStore) UpsertMapping(ctx context.Context, mp event.ChannelMapping) error {
	mp.ProjectID = strings.TrimSpace(mp.ProjectID)
	if mp.ProjectID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.upsertMapping(mp, m.now())
	return nil
}

func (m *memoryStore) ListMappings(ctx context.Context) ([]event.ChannelMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.mappings(), nil
}

func (m *memoryStore) DeleteMapping(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.st.Mappings, projectID)
	return nil
}

func (m *memoryStore) GetSession(ctx context.Context, chatID int64) (event.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return event.Session{}, false, ErrClosed
	}
	s, ok := m.st.Sessions[chatID]
	return s, ok, nil
}

func (m *memoryStore) PutSession(ctx context.Context, s event.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.Sessions[s.ChatID] = s
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
