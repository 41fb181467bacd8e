package imagine_queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestQueue(t *testing.T) Queue {
	t.Helper()

	q, err := New(Config{Cooldown: time.Millisecond, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	t.Cleanup(q.Stop)

	return q
}

func TestTasksRunSeriallyInOrder(t *testing.T) {
	q := newTestQueue(t)

	const taskCount = 8

	var (
		mu       sync.Mutex
		order    []int
		inFlight atomic.Int32
		overlap  atomic.Bool
		done     sync.WaitGroup
	)

	done.Add(taskCount)

	for i := 0; i < taskCount; i++ {
		i := i

		_, err := q.Add(&Task{Name: "test", Run: func(ctx context.Context) error {
			defer done.Done()

			if inFlight.Add(1) > 1 {
				overlap.Store(true)
			}

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			inFlight.Add(-1)

			return nil
		}})
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	done.Wait()

	if overlap.Load() {
		t.Error("tasks overlapped")
	}

	mu.Lock()
	defer mu.Unlock()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want submission order", order)
		}
	}
}

func TestAddReturnsPosition(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})

	_, err := q.Add(&Task{Run: func(ctx context.Context) error {
		close(started)
		<-release

		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	<-started

	noop := func(ctx context.Context) error { return nil }

	first, _ := q.Add(&Task{Run: noop})
	second, _ := q.Add(&Task{Run: noop})

	if first != 1 || second != 2 {
		t.Errorf("positions = %d, %d, want 1, 2", first, second)
	}

	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}

	close(release)
}

func TestPanicAndErrorDoNotStopTheWorker(t *testing.T) {
	q := newTestQueue(t)

	ran := make(chan struct{})

	_, _ = q.Add(&Task{Run: func(ctx context.Context) error { panic("boom") }})
	_, _ = q.Add(&Task{Run: func(ctx context.Context) error { return errors.New("failed") }})
	_, _ = q.Add(&Task{Run: func(ctx context.Context) error {
		close(ran)
		return nil
	}})

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task after panic never ran")
	}
}

func TestWorkerRestartsAfterDraining(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 2; i++ {
		ran := make(chan struct{})

		_, err := q.Add(&Task{Run: func(ctx context.Context) error {
			close(ran)
			return nil
		}})
		if err != nil {
			t.Fatal(err)
		}

		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("task %d never ran", i)
		}

		// let the worker go idle before the next submission
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAddAfterStop(t *testing.T) {
	q, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	q.Stop()

	_, err = q.Add(&Task{Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("got %v, want ErrStopped", err)
	}
}

func TestStopCancelsRunningTask(t *testing.T) {
	q, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})

	_, _ = q.Add(&Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()

		return ctx.Err()
	}})

	<-started

	q.Stop()

	if q.Len() != 0 {
		t.Errorf("Len() = %d after Stop", q.Len())
	}
}

func TestStopRunsDroppedCallbacks(t *testing.T) {
	q, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})

	_, _ = q.Add(&Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()

		return ctx.Err()
	}})

	<-started

	var (
		ran     atomic.Int32
		dropped atomic.Int32
	)

	for i := 0; i < 3; i++ {
		_, err = q.Add(&Task{
			Run: func(ctx context.Context) error {
				ran.Add(1)

				return nil
			},
			Dropped: func() { dropped.Add(1) },
		})
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	_, _ = q.Add(&Task{Run: func(ctx context.Context) error { return nil }})

	q.Stop()

	if dropped.Load() != 3 {
		t.Errorf("dropped = %d, want 3", dropped.Load())
	}

	if ran.Load() != 0 {
		t.Errorf("ran = %d, want 0", ran.Load())
	}
}
