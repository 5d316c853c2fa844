package server

import (
	"context"
	"errors"
	"sync"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
)

// ErrQueueClosed is returned by work submitted after a database was closed.
var ErrQueueClosed = errors.New("database work queue is closed")

type job struct {
	ctx  context.Context
	fn   func(*store.Database) error
	done chan error
}

// workQueue runs every operation on one database from a single goroutine,
// so transactions on that database never interleave.
type workQueue struct {
	db   *store.Database
	jobs chan job

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
	worker     sync.WaitGroup
}

func newWorkQueue(db *store.Database) *workQueue {
	q := &workQueue{db: db, jobs: make(chan job)}
	q.worker.Add(1)
	go q.run()
	return q
}

func (q *workQueue) run() {
	defer q.worker.Done()
	for j := range q.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- q.call(j.fn)
	}
}

// call runs fn, turning a panic into an InternalServerError so one bad
// operation does not take down the worker.
func (q *workQueue) call(fn func(*store.Database) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.Errorf(models.StatusInternalServerError, "panic in database operation: %v", r)
		}
	}()
	return fn(q.db)
}

// submit runs fn on the queue and waits for it. If ctx ends first the call
// returns ctx.Err(); fn then either never starts or finishes unobserved.
func (q *workQueue) submit(ctx context.Context, fn func(*store.Database) error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.submitters.Add(1)
	q.mu.Unlock()
	defer q.submitters.Done()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting work, lets already submitted work finish and stops
// the worker. The database itself is left open.
func (q *workQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.submitters.Wait()
	close(q.jobs)
	q.worker.Wait()
}
