package imagine_queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"discord_ai_cogs/clock"
)

const DefaultCooldown = 500 * time.Millisecond

var ErrStopped = errors.New("queue is stopped")

type queueImpl struct {
	mu       sync.Mutex
	pending  []*Task
	current  *Task
	running  bool
	stopped  bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	cooldown time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

type Config struct {
	// Cooldown is the pause between two tasks. Zero uses DefaultCooldown,
	// a negative value disables it.
	Cooldown time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

func New(cfg Config) (Queue, error) {
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}

	queueClock := cfg.Clock
	if queueClock == nil {
		queueClock = clock.NewClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &queueImpl{
		ctx:      ctx,
		cancel:   cancel,
		cooldown: cooldown,
		clock:    queueClock,
		logger:   logger,
	}, nil
}

func (q *queueImpl) Add(task *Task) (int, error) {
	if task == nil || task.Run == nil {
		return 0, errors.New("missing task")
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return 0, ErrStopped
	}

	q.pending = append(q.pending, task)
	position := len(q.pending)

	if !q.running {
		q.running = true
		q.wg.Add(1)

		go q.drain()
	}

	q.logger.Debug("Task queued",
		zap.String("task_id", task.ID),
		zap.String("task", task.Name),
		zap.Int("position", position),
	)

	return position, nil
}

func (q *queueImpl) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (q *queueImpl) Stop() {
	q.mu.Lock()
	q.stopped = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, task := range dropped {
		q.drop(task)
	}

	q.cancel()
	q.wg.Wait()
}

func (q *queueImpl) drop(task *Task) {
	logger := q.logger.With(zap.String("task_id", task.ID), zap.String("task", task.Name))
	logger.Info("Dropping queued task")

	if task.Dropped == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dropped callback panicked", zap.Any("panic", r))
		}
	}()

	task.Dropped()
}

func (q *queueImpl) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || len(q.pending) == 0 {
		q.running = false
		q.current = nil

		return nil
	}

	task := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = task

	return task
}

// drain runs queued tasks one at a time until the queue is empty.
func (q *queueImpl) drain() {
	defer q.wg.Done()

	for {
		task := q.next()
		if task == nil {
			return
		}

		q.runTask(task)

		if q.cooldown > 0 {
			_ = q.clock.Sleep(q.ctx, q.cooldown)
		}
	}
}

func (q *queueImpl) runTask(task *Task) {
	logger := q.logger.With(zap.String("task_id", task.ID), zap.String("task", task.Name))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := q.clock.Now()

	err := task.Run(q.ctx)
	if err != nil {
		logger.Error("Task failed", zap.Error(err))

		return
	}

	logger.Debug("Task finished", zap.Duration("elapsed", q.clock.Now().Sub(start)))
}
