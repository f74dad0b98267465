// Package api implements the transport-agnostic submit/poll/status façade
// that the HTTP layer (and any future transport) calls into.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/execlab/sandboxd/internal/cache"
	"github.com/execlab/sandboxd/internal/queue"
	"github.com/execlab/sandboxd/internal/scheduler"
	"github.com/execlab/sandboxd/internal/task"
)

// ErrQueueFull is returned by Submit when the intake queue is at capacity.
var ErrQueueFull = queue.ErrFull

// ErrNotFound is returned by Poll when no task with the given ID exists in
// the cache (never submitted, already consumed, or evicted under pressure).
var ErrNotFound = fmt.Errorf("Task not found")

// Service wires the queue, cache, and worker pool behind three operations:
// submit, poll, and a fleet status snapshot.
type Service struct {
	q     *queue.TaskQueue
	store cache.Store
	pool  *scheduler.Pool

	startedAt time.Time
}

// New builds a Service over an already-started queue, cache, and pool.
func New(q *queue.TaskQueue, store cache.Store, pool *scheduler.Pool) *Service {
	return &Service{q: q, store: store, pool: pool, startedAt: time.Now()}
}

// Submit validates and normalizes sub, assigns it a task ID, and enqueues
// it. Returns ErrQueueFull if the intake queue is at capacity.
func (s *Service) Submit(ctx context.Context, sub task.Submission) (task.Task, error) {
	sub.Normalize()
	if err := sub.Validate(); err != nil {
		return task.Task{}, err
	}

	id := task.NewID()
	t := task.Task{
		ID:         id,
		Submission: sub,
		Status:     task.StatusQueued,
		EnqueuedAt: time.Now(),
	}

	// Cache the queued entry before a worker can see the item, so the
	// worker's later processing/terminal Put is never overwritten by it.
	s.store.Put(id, t)
	if err := s.q.Submit(queue.Item{TaskID: id, Submission: sub}); err != nil {
		s.store.Delete(id)
		return task.Task{}, err
	}
	return t, nil
}

// Poll returns the task's current state. If it is in a terminal status, the
// entry is removed from the cache first (consume-once semantics): a second
// Poll for the same ID returns ErrNotFound.
func (s *Service) Poll(id uuid.UUID) (task.Task, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return task.Task{}, ErrNotFound
	}
	if t.Status.Terminal() {
		s.store.Delete(id)
	}
	return t, nil
}

// Status is a fleet-wide snapshot: queue depth/capacity, cache size, idle
// worker count, and host memory stats.
type Status struct {
	QueueDepth    int     `json:"queue_depth"`
	QueueCapacity int     `json:"queue_capacity"`
	CacheSize     int     `json:"cache_size"`
	WorkersIdle   int     `json:"workers_idle"`
	WorkersTotal  int     `json:"workers_total"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

// Status returns a point-in-time fleet snapshot, including host memory
// stats gathered the same way the original's psutil-based status endpoint
// did (gopsutil is the cross-platform stand-in used across this stack).
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		QueueDepth:    s.q.Len(),
		QueueCapacity: s.q.Capacity(),
		CacheSize:     s.store.Size(),
		WorkersIdle:   s.pool.IdleCount(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemoryUsedPct = vm.UsedPercent
	}
	return st
}
