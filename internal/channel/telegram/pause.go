package telegram

import (
	"context"
	"sync"
	"time"

	logx "flowwatch/pkg/logx"
)

// PauseStore holds per-project pause windows. Expired entries may still be
// returned; the adapter deletes them lazily.
type PauseStore interface {
	SetPause(ctx context.Context, projectID string, until time.Time) error
	DeletePause(ctx context.Context, projectID string) error
	GetPause(ctx context.Context, projectID string) (until time.Time, ok bool, err error)
}

type memoryPauses struct {
	mu sync.Mutex
	m  map[string]time.Time
}

// NewMemoryPauses returns a process-local PauseStore.
func NewMemoryPauses() PauseStore {
	return &memoryPauses{m: map[string]time.Time{}}
}

func (p *memoryPauses) SetPause(_ context.Context, projectID string, until time.Time) error {
	p.mu.Lock()
	p.m[projectID] = until
	p.mu.Unlock()
	return nil
}

func (p *memoryPauses) DeletePause(_ context.Context, projectID string) error {
	p.mu.Lock()
	delete(p.m, projectID)
	p.mu.Unlock()
	return nil
}

func (p *memoryPauses) GetPause(_ context.Context, projectID string) (time.Time, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.m[projectID]
	return until, ok, nil
}

const pauseLookupTimeout = 2 * time.Second

// IsPaused reports whether notifications for projectID are suppressed right
// now. An expired window is deleted before returning false. Lookup errors
// fail open.
func (a *Adapter) IsPaused(projectID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), pauseLookupTimeout)
	defer cancel()
	until, ok, err := a.pauses.GetPause(ctx, projectID)
	if err != nil {
		a.log.Warn("pause lookup failed", logx.String("project_id", projectID), logx.Err(err))
		return false
	}
	if !ok {
		return false
	}
	if a.now().Before(until) {
		return true
	}
	if err := a.pauses.DeletePause(ctx, projectID); err != nil {
		a.log.Warn("expired pause delete failed", logx.String("project_id", projectID), logx.Err(err))
	}
	return false
}
