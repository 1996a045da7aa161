package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logx "flowwatch/pkg/logx"
)

var ErrClosed = errors.New("queue closed")

// Task is one unit of work run by a key's worker.
type Task func(ctx context.Context) (any, error)

type result struct {
	v   any
	err error
}

type job struct {
	ctx  context.Context
	task Task
	done chan result
}

type worker struct {
	key     string
	pending []*job
}

// Queue is safe for concurrent use. The zero value is not usable; use New.
type Queue struct {
	log logx.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

func New(log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{log: log, workers: map[string]*worker{}}
}

// Submit chains task after every task already queued for key and waits for
// its result.
//
// Once started, a task runs to completion: it receives a context that keeps
// the caller's values but not its cancellation. If ctx is cancelled before the
// task starts, the task is skipped; if it is cancelled while the task runs,
// Submit returns ctx.Err() and the task finishes in the background.
func (q *Queue) Submit(ctx context.Context, key string, task Task) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if task == nil {
		return nil, errors.New("queue: nil task")
	}
	j := &job{ctx: ctx, task: task, done: make(chan result, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	w, ok := q.workers[key]
	if !ok {
		w = &worker{key: key}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(w)
	}
	w.pending = append(w.pending, j)
	q.mu.Unlock()

	select {
	case r := <-j.done:
		return r.v, r.err
	case <-ctx.Done():
		// Prefer a result that raced with cancellation.
		select {
		case r := <-j.done:
			return r.v, r.err
		default:
			return nil, ctx.Err()
		}
	}
}

func (q *Queue) run(w *worker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(w.pending) == 0 {
			delete(q.workers, w.key)
			q.mu.Unlock()
			return
		}
		j := w.pending[0]
		w.pending[0] = nil
		w.pending = w.pending[1:]
		q.mu.Unlock()

		j.done <- q.exec(w.key, j)
	}
}

func (q *Queue) exec(key string, j *job) (r result) {
	if err := j.ctx.Err(); err != nil {
		return result{err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			q.log.Error("queue task panicked", logx.String("key", key), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			r = result{err: fmt.Errorf("queue task %s panicked: %v", key, p)}
		}
	}()
	v, err := j.task(context.WithoutCancel(j.ctx))
	return result{v: v, err: err}
}

// Active returns the number of keys that currently own a worker.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close rejects new submissions and waits (bounded by ctx) for queued tasks
// to drain.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do is the typed form of Submit.
func Do[R any](ctx context.Context, q *Queue, key string, task func(ctx context.Context) (R, error)) (R, error) {
	v, err := q.Submit(ctx, key, func(c context.Context) (any, error) { return task(c) })
	r, _ := v.(R)
	return r, err
}

// Key builds the serialization key for a workflow inside a project.
func Key(projectID, workflowID string) string {
	return projectID + ":" + workflowID
}
