package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"flowwatch/internal/event"
	logx "flowwatch/pkg/logx"
)

// fileStore keeps the full state in memory and persists it as a snapshot
// plus an append-only journal.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	st           *state
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

const (
	opInsert     = "insert"
	opIncrement  = "increment"
	opMapping    = "mapping"
	opMappingDel = "mapping_del"
	opSession    = "session"
)

type journalRecord struct {
	Op        string                `json:"op"`
	Event     *event.Event          `json:"event,omitempty"`
	Mapping   *event.ChannelMapping `json:"mapping,omitempty"`
	ProjectID string                `json:"project_id,omitempty"`
	Session   *event.Session        `json:"session,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, st, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = 1000
	}
	return &fileStore{
		log:          log,
		now:          time.Now,
		st:           st,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: every,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) FindLatest(ctx context.Context, workflowID, name string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.st.findLatest(workflowID, name), nil
}

func (s *fileStore) Insert(ctx context.Context, e *event.Event) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := s.st.insert(e, s.now())
	if err := s.appendLocked(journalRecord{Op: opInsert, Event: out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) IncrementCount(ctx context.Context, id int64) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out, err := s.st.increment(id, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.appendLocked(journalRecord{Op: opIncrement, Event: out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) UpsertMapping(ctx context.Context, m event.ChannelMapping) error {
	m.ProjectID = strings.TrimSpace(m.ProjectID)
	if m.ProjectID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	m = s.st.upsertMapping(m, s.now())
	return s.appendLocked(journalRecord{Op: opMapping, Mapping: &m})
}

func (s *fileStore) ListMappings(ctx context.Context) ([]event.ChannelMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.st.mappings(), nil
}

func (s *fileStore) DeleteMapping(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.st.Mappings[projectID]; !ok {
		return nil
	}
	delete(s.st.Mappings, projectID)
	return s.appendLocked(journalRecord{Op: opMappingDel, ProjectID: projectID})
}

func (s *fileStore) GetSession(ctx context.Context, chatID int64) (event.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return event.Session{}, false, ErrClosed
	}
	v, ok := s.st.Sessions[chatID]
	return v, ok, nil
}

func (s *fileStore) PutSession(ctx context.Context, sess event.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.st.Sessions[sess.ChatID] = sess
	return s.appendLocked(journalRecord{Op: opSession, Session: &sess})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(st); err != nil {
		return err
	}
	st.normalize()
	return nil
}

func replayJournal(path string, st *state, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		applyRecord(st, r)
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal records", logx.Int("count", skipped), logx.String("path", path))
	}
	return sc.Err()
}

func applyRecord(st *state, r journalRecord) {
	switch r.Op {
	case opInsert:
		if r.Event == nil {
			return
		}
		st.Events[r.Event.ID] = r.Event
		st.Latest[latestKey(r.Event.WorkflowID, r.Event.Name)] = r.Event.ID
		if r.Event.ID > st.NextID {
			st.NextID = r.Event.ID
		}
	case opIncrement:
		if r.Event == nil {
			return
		}
		st.Events[r.Event.ID] = r.Event
	case opMapping:
		if r.Mapping != nil {
			st.Mappings[r.Mapping.ProjectID] = *r.Mapping
		}
	case opMappingDel:
		delete(st.Mappings, r.ProjectID)
	case opSession:
		if r.Session != nil {
			st.Sessions[r.Session.ChatID] = *r.Session
		}
	}
}
