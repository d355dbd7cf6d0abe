// Package taskqueue implements the single FIFO queue feeding the Task
// Runner's worker pool. Two implementations share the Queue interface:
// an in-memory channel queue (default) and a NATS
// JetStream-backed durable queue for deployments that need the queue to
// survive a server restart.
package taskqueue

import (
	"context"

	"github.com/autorepair/autorepair/internal/incident"
)

// Queue is a FIFO of incident.Job. Enqueue never blocks the HTTP handler for
// long; Dequeue blocks until a job is available or ctx is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, job incident.Job) error
	Dequeue(ctx context.Context) (incident.Job, error)
	Depth() int
	Close() error
}

// MemQueue is a bounded in-memory Queue backed by a buffered channel. It is
// the default queue: simple, process-local, and lost on restart (acceptable
// since there is no ordering guarantee between traces and no durability
// contract on the base queue).
type MemQueue struct {
	ch chan incident.Job
}

// NewMemQueue constructs a MemQueue with the given bounded capacity.
func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{ch: make(chan incident.Job, capacity)}
}

func (q *MemQueue) Enqueue(ctx context.Context, job incident.Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (incident.Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-ctx.Done():
		return incident.Job{}, ctx.Err()
	}
}

func (q *MemQueue) Depth() int { return len(q.ch) }

func (q *MemQueue) Close() error { return nil }
