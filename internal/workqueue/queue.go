// Package workqueue serializes every operation that drives the feeder
// hardware through a single owner goroutine.
package workqueue

import (
	"context"
	"errors"
	"sync/atomic"

	"cat_feeder/internal/logger"
)

// ErrClosed is returned once the queue's Run loop has exited.
var ErrClosed = errors.New("work queue closed")

// Job is a unit of hardware work.
type Job func(ctx context.Context) error

type request struct {
	ctx  context.Context
	name string
	job  Job
	done chan error
}

// Queue runs submitted jobs one at a time in submission order.
type Queue struct {
	reqs    chan request
	closed  chan struct{}
	pending atomic.Int64
	log     *logger.Logger

	// OnIdle, when set, is called after each job.
	OnIdle func()
}

func New(size int, log *logger.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{
		reqs:   make(chan request, size),
		closed: make(chan struct{}),
		log:    logger.OrNop(log),
	}
}

// Run executes jobs until ctx is canceled. Jobs run detached from the
// submitter's cancellation so a dispense is never cut off by a dropped
// HTTP request; they still see ctx values.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.closed)
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			return
		case r := <-q.reqs:
			q.pending.Add(-1)
			if err := r.ctx.Err(); err != nil {
				r.done <- err
				continue
			}
			err := r.job(context.WithoutCancel(r.ctx))
			if err != nil {
				q.log.Debugw("job_failed", "job", r.name, "err", err)
			}
			r.done <- err
			if q.OnIdle != nil {
				q.OnIdle()
			}
		}
	}
}

func (q *Queue) drain(err error) {
	for {
		select {
		case r := <-q.reqs:
			q.pending.Add(-1)
			r.done <- err
		default:
			return
		}
	}
}

// Do submits job and waits for its result. If ctx ends first Do returns
// ctx.Err(); an already started job still runs to completion.
func (q *Queue) Do(ctx context.Context, name string, job Job) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	r := request{ctx: ctx, name: name, job: job, done: make(chan error, 1)}
	q.pending.Add(1)
	select {
	case q.reqs <- r:
	case <-q.closed:
		q.pending.Add(-1)
		return ErrClosed
	case <-ctx.Done():
		q.pending.Add(-1)
		return ctx.Err()
	}

	select {
	case err := <-r.done:
		return err
	case <-q.closed:
		select {
		case err := <-r.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of jobs waiting to start.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}
