package imagine_queue

import (
	"context"
)

// Task is one unit of backend work. Run receives the queue's context, which
// is cancelled when the queue stops. Dropped is called instead of Run for a
// task still waiting when the queue stops.
type Task struct {
	ID      string
	Name    string
	Run     func(ctx context.Context) error
	Dropped func()
}

type Queue interface {
	// Add appends task and returns its position in line, 1 being next.
	Add(task *Task) (int, error)
	// Len is the number of tasks waiting, excluding the one running.
	Len() int
	// Stop drops waiting tasks, cancels the running one and waits for it.
	// Each dropped task's Dropped callback runs before Stop returns.
	Stop()
}
