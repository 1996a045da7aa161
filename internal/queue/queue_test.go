package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "flowwatch/pkg/logx"
)

func pendingLen(q *Queue, key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w := q.workers[key]; w != nil {
		return len(w.pending)
	}
	return 0
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSameKeyRunsInOrderWithoutOverlap(t *testing.T) {
	q := New(logx.Nop())
	const n = 20
	key := Key("P", "W")

	gate := make(chan struct{})
	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		mu       sync.Mutex
		order    []int
		wg       sync.WaitGroup
	)

	body := func(i int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			if inFlight.Add(1) != 1 {
				overlap.Store(true)
			}
			if i == 0 {
				<-gate
			}
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Add(-1)
			return i, nil
		}
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := Do(context.Background(), q, key, body(i))
			if err != nil || got != i {
				t.Errorf("task %d: got %d, %v", i, got, err)
			}
		}(i)
		// Issue calls one at a time so submission order is known.
		if i == 0 {
			waitFor(t, func() bool { return inFlight.Load() == 1 })
		} else {
			want := i
			waitFor(t, func() bool { return pendingLen(q, key) == want })
		}
	}
	close(gate)
	wg.Wait()

	if overlap.Load() {
		t.Fatal("tasks for the same key overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	q := New(logx.Nop())
	gate := make(chan struct{})
	started := make(chan struct{})

	errA := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), "A", func(context.Context) (any, error) {
			close(started)
			<-gate
			return nil, nil
		})
		errA <- err
	}()
	<-started

	// B completes while A is still blocked.
	done := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), "B", func(context.Context) (any, error) { return nil, nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key B was blocked behind key A")
	}
	close(gate)
	if err := <-errA; err != nil {
		t.Fatalf("A: %v", err)
	}
}

func TestFailureDoesNotPoisonKey(t *testing.T) {
	q := New(logx.Nop())
	boom := errors.New("boom")

	if _, err := q.Submit(context.Background(), "k", func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("first task error = %v, want boom", err)
	}
	if _, err := q.Submit(context.Background(), "k", func(context.Context) (any, error) { panic("bad") }); err == nil {
		t.Fatal("panicking task should return an error")
	}
	v, err := Do(context.Background(), q, "k", func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("third task = %q, %v", v, err)
	}
}

func TestIdleKeysAreReleased(t *testing.T) {
	q := New(logx.Nop())
	for _, k := range []string{"a", "b", "c"} {
		if _, err := q.Submit(context.Background(), k, func(context.Context) (any, error) { return nil, nil }); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return q.Active() == 0 })
}

func TestCancelledBeforeStartIsSkipped(t *testing.T) {
	q := New(logx.Nop())
	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), "k", func(context.Context) (any, error) {
			close(started)
			<-gate
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, "k", func(context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		})
		errc <- err
	}()
	waitFor(t, func() bool { return pendingLen(q, "k") == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(gate)
	waitFor(t, func() bool { return q.Active() == 0 })
	if ran.Load() {
		t.Fatal("cancelled task should not run")
	}
}

func TestStartedTaskIgnoresCallerCancellation(t *testing.T) {
	q := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	taskErr := make(chan error, 1)
	_, _ = q.Submit(ctx, "k", func(c context.Context) (any, error) {
		cancel()
		taskErr <- c.Err()
		return nil, nil
	})
	if err := <-taskErr; err != nil {
		t.Fatalf("task context was cancelled mid-task: %v", err)
	}
}

func TestCloseRejectsNewTasks(t *testing.T) {
	q := New(logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit(context.Background(), "k", func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
