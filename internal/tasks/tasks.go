// Package tasks is the enqueue/execute model for named background jobs.
// Request handlers hand off (task name, primitive args) pairs; a worker
// pool decoupled from request latency executes them.
package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler runs one task. Args are serializable primitives (ids, not
// objects) so a queue hop never needs to re-hydrate entities itself.
type Handler func(ctx context.Context, args []string) error

type task struct {
	name string
	args []string
}

// Dispatcher routes enqueued tasks to registered handlers through a bounded
// queue consumed by a worker pool.
type Dispatcher struct {
	le *logrus.Entry

	handlers map[string]Handler
	queue    chan task

	workers int

	// workMu must be held for calls to Work
	workMu sync.Mutex
}

// NewDispatcher will return a new *Dispatcher instance.
func NewDispatcher(workers, queueSize int, le *logrus.Entry) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		le:       le,
		handlers: make(map[string]Handler),
		queue:    make(chan task, queueSize),
		workers:  workers,
	}
}

// Register binds a task name to its handler. Registration happens during
// startup, before Work is called.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Enqueue is a fire-and-forget handoff. Enqueuing the same logical sync
// twice is harmless: the per-connection lock serializes actual execution.
// A full queue drops the task with a log line rather than blocking the
// request path.
func (d *Dispatcher) Enqueue(name string, args ...string) {
	select {
	case d.queue <- task{name: name, args: args}:
	default:
		d.le.WithFields(logrus.Fields{
			"task": name,
			"args": args,
		}).Error("task queue full, dropping task")
	}
}

// Work runs the worker pool until ctx is canceled.
func (d *Dispatcher) Work(ctx context.Context) error {
	if ok := d.workMu.TryLock(); !ok {
		return errors.New("tasks: concurrent calls to Work are invalid")
	}
	defer d.workMu.Unlock()

	var eg errgroup.Group
	for i := 0; i < d.workers; i++ {
		eg.Go(func() error {
			return d.worker(ctx)
		})
	}
	return eg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) error {
	le := d.le.WithField("worker_type", "task_worker")
	le.Info("tasks: worker started")
	defer le.Info("tasks: worker exited")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-d.queue:
			d.run(ctx, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, t task) {
	le := d.le.WithFields(logrus.Fields{
		"task": t.name,
		"args": t.args,
	})

	h, ok := d.handlers[t.name]
	if !ok {
		le.Warn("no handler registered for task")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			le.WithField("panic", rec).Error("task panicked")
		}
	}()

	if err := h(ctx, t.args); err != nil {
		le.WithError(err).Error("task failed")
		return
	}
	le.Debug("task completed")
}
