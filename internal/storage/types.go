package storage

import (
	"context"
	"errors"
	"time"

	"flowwatch/internal/event"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty it defaults to "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactEvery is the number of journal writes between snapshots
	// (file driver only; 0 means 1000).
	CompactEvery int
}

// EventStore is the persistence contract of the ingestion pipeline.
type EventStore interface {
	// FindLatest returns the most recently inserted event with name in
	// workflowID, or (nil, nil) when there is none.
	FindLatest(ctx context.Context, workflowID, name string) (*event.Event, error)
	// Insert stores e with Count 1. A zero ID is assigned by the store.
	Insert(ctx context.Context, e *event.Event) (*event.Event, error)
	// IncrementCount bumps the counter of event id and returns the updated row.
	IncrementCount(ctx context.Context, id int64) (*event.Event, error)
}

type MappingStore interface {
	UpsertMapping(ctx context.Context, m event.ChannelMapping) error
	ListMappings(ctx context.Context) ([]event.ChannelMapping, error)
	DeleteMapping(ctx context.Context, projectID string) error
}

type SessionStore interface {
	GetSession(ctx context.Context, chatID int64) (event.Session, bool, error)
	PutSession(ctx context.Context, s event.Session) error
}

// Store bundles every persistence API used by the service.
type Store interface {
	EventStore
	MappingStore
	SessionStore
	Close() error
}
