// Package dispatcher watches the task store for submitted tasks and runs
// each one to a terminal state on a bounded pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chronalabs/chrona/internal/store"
	v1alpha1 "github.com/chronalabs/chrona/pkg/apis/v1alpha1"
)

// DefaultWorkers bounds how many tasks run concurrently.
const DefaultWorkers = 4

// ErrTaskTerminal is returned by Cancel when the task already reached a
// terminal state.
var ErrTaskTerminal = errors.New("task is already terminal")

// Runner executes one task to completion. *agent.Orchestrator satisfies it.
type Runner interface {
	Handle(ctx context.Context, task *v1alpha1.Task) error
}

// Dispatcher connects the store's watch stream to the task runner. Each
// running task gets its own cancellable context, registered by task id so
// Cancel can reach it.
type Dispatcher struct {
	store   store.Store
	runner  Runner
	logger  *zap.Logger
	queue   *WorkQueue
	workers int

	mu     sync.Mutex
	active map[string]context.CancelFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers overrides the default worker pool size.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// New creates a Dispatcher.
func New(s store.Store, runner Runner, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   s,
		runner:  runner,
		logger:  logger,
		queue:   NewWorkQueue(),
		workers: DefaultWorkers,
		active:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins watching for tasks and processing them. It returns once
// the watcher and workers are running; Stop shuts them down.
func (d *Dispatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	eventCh, cancelWatch := d.store.Watch(store.TaskPrefix)

	// Tasks submitted before the watch began still need processing.
	existing, err := d.store.List(store.TaskPrefix)
	if err != nil {
		cancelWatch()
		cancel()
		return fmt.Errorf("listing pending tasks: %w", err)
	}
	for _, task := range existing {
		if task.Status.State == v1alpha1.TaskSubmitted {
			d.queue.Add(store.TaskKey(task.Metadata.ID))
		}
	}

	d.wg.Add(1)
	go d.watchLoop(runCtx, eventCh, cancelWatch)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(runCtx, i)
	}

	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))
	return nil
}

// Stop cancels all running tasks and waits for the workers to drain.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.queue.Close()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Cancel requests cooperative cancellation of a task. A running task has
// its context canceled and transitions at its next round boundary; a task
// still waiting in the queue is flipped to canceled directly. Canceling a
// terminal task returns ErrTaskTerminal.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	cancelTask, running := d.active[id]
	d.mu.Unlock()

	if running {
		d.logger.Info("canceling running task", zap.String("task", id))
		cancelTask()
		return nil
	}

	task, err := d.store.Get(store.TaskKey(id))
	if err != nil {
		return err
	}
	if task.Status.State.Terminal() {
		return ErrTaskTerminal
	}

	task.Status.State = v1alpha1.TaskCanceled
	task.Status.FinishedAt = time.Now()
	task.Metadata.UpdatedAt = time.Now()
	if err := d.store.Update(store.TaskKey(id), task); err != nil {
		return fmt.Errorf("marking task canceled: %w", err)
	}
	d.logger.Info("canceled queued task", zap.String("task", id))
	return nil
}

func (d *Dispatcher) watchLoop(ctx context.Context, eventCh <-chan v1alpha1.WatchEvent, cancelWatch func()) {
	defer d.wg.Done()
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event.Type != v1alpha1.EventAdded {
				continue
			}
			d.logger.Debug("task submitted", zap.String("key", event.Key))
			d.queue.Add(event.Key)
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("worker", id))

	for {
		key, ok := d.queue.Get()
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			d.queue.Done(key)
			return
		default:
		}

		if err := d.process(ctx, key); err != nil {
			logger.Error("task processing failed",
				zap.String("key", key),
				zap.Error(err),
			)
			d.queue.Requeue(key)
			continue
		}
		d.queue.Done(key)
	}
}

// process loads a task and, if it is still submitted, runs it. Events for
// tasks in any other state are ignored: the worker that owns a working
// task is the only writer until it reaches a terminal state.
func (d *Dispatcher) process(ctx context.Context, key string) error {
	task, err := d.store.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if task.Status.State != v1alpha1.TaskSubmitted {
		return nil
	}

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	d.mu.Lock()
	d.active[task.Metadata.ID] = cancelTask
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, task.Metadata.ID)
		d.mu.Unlock()
	}()

	// Re-read after registering: a Cancel that missed the active entry has
	// flipped the stored state by now, and the task must not run. A Cancel
	// arriving from here on sees the entry and cancels taskCtx instead.
	current, err := d.store.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if current.Status.State != v1alpha1.TaskSubmitted {
		return nil
	}

	return d.runner.Handle(taskCtx, current)
}
