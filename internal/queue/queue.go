// Package queue implements the bounded, non-blocking intake queue that sits
// between the submit API and the worker pool.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/execlab/sandboxd/internal/task"
)

// ErrFull is returned by Submit when the queue is at capacity.
var ErrFull = errors.New("Task queue is full")

// Item is one (task_id, submission) pair waiting to be picked up by a worker.
type Item struct {
	TaskID     uuid.UUID
	Submission task.Submission
}

// TaskQueue is a bounded multi-producer multi-consumer FIFO. Submit never
// blocks: when the queue is full it fails with ErrFull. Take blocks until an
// item is available or the context is cancelled. FIFO order across
// producers is not guaranteed; within a single producer, order is preserved
// because a buffered channel preserves send order.
type TaskQueue struct {
	ch chan Item
}

// New creates a queue with the given capacity Q.
func New(capacity int) *TaskQueue {
	return &TaskQueue{ch: make(chan Item, capacity)}
}

// Capacity returns Q.
func (q *TaskQueue) Capacity() int {
	return cap(q.ch)
}

// Len returns the current number of queued items.
func (q *TaskQueue) Len() int {
	return len(q.ch)
}

// Submit enqueues an item without blocking. It returns ErrFull if the queue
// is at capacity.
func (q *TaskQueue) Submit(item Item) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Take blocks until an item is available or ctx is done.
func (q *TaskQueue) Take(ctx context.Context) (Item, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}
