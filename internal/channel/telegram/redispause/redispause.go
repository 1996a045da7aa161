// Package redispause keeps Telegram pause windows in Redis so several
// processes observe the same /pause and /resume.
package redispause

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "flowwatch:pause:"

// Store implements telegram.PauseStore. Keys expire with their window, so
// Redis does the lazy cleanup on its own.
type Store struct {
	rdb    redis.Cmdable
	prefix string
}

func New(rdb redis.Cmdable, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial parses a redis:// or rediss:// URL and checks the server is reachable.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (s *Store) key(projectID string) string { return s.prefix + projectID }

func (s *Store) SetPause(ctx context.Context, projectID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return s.DeletePause(ctx, projectID)
	}
	return s.rdb.Set(ctx, s.key(projectID), until.UnixMilli(), ttl).Err()
}

func (s *Store) DeletePause(ctx context.Context, projectID string) error {
	return s.rdb.Del(ctx, s.key(projectID)).Err()
}

func (s *Store) GetPause(ctx context.Context, projectID string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("pause value %q: %w", v, err)
	}
	return time.UnixMilli(ms), true, nil
}
