// Package scheduler runs the fixed-size worker pool that pulls tasks off
// the intake queue, drives a sandbox session per task, and writes the
// result into the shared cache.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/execlab/sandboxd/internal/audit"
	"github.com/execlab/sandboxd/internal/cache"
	"github.com/execlab/sandboxd/internal/logging"
	"github.com/execlab/sandboxd/internal/metrics"
	"github.com/execlab/sandboxd/internal/queue"
	"github.com/execlab/sandboxd/internal/task"
)

// SessionFactory builds the executor a worker uses for one task. In
// production this wraps sandbox.NewSession against a shared ContainerClient;
// tests substitute a fake.
type SessionFactory func(workerID int, cpusetCPUs string) Executor

// Executor is the subset of *sandbox.Session a worker depends on, narrowed
// so tests can supply a fake without standing up Docker.
type Executor interface {
	Execute(ctx context.Context, sub task.Submission) (task.ExecutionOutput, error)
	Kill(ctx context.Context)
}

// Worker tracks one pool slot's identity and idle state.
type Worker struct {
	ID       int
	CPUIndex int
	idle     atomic.Bool
}

// Idle reports whether the worker is between tasks.
func (w *Worker) Idle() bool { return w.idle.Load() }

// Pool owns W workers, each looping: take -> mark busy -> execute with
// timeout -> write result -> mark idle.
type Pool struct {
	workers []*Worker
	factory SessionFactory
	q       *queue.TaskQueue
	store   cache.Store
	sink    *audit.Sink

	wg     sync.WaitGroup
	cancel context.CancelFunc

	// lastDropped is the dropped-in-flight count last folded into the
	// CacheDroppedInFlight counter, so repeated samples of a monotonically
	// increasing gauge-like value only add the delta. Only ever touched from
	// reportMetrics's own goroutine.
	lastDropped float64
}

// New builds a pool of n workers, each pinned to cpuset index (i mod
// runtime.NumCPU()) as a hint passed into the per-task container limits.
func New(n int, factory SessionFactory, q *queue.TaskQueue, store cache.Store, sink *audit.Sink) *Pool {
	workers := make([]*Worker, n)
	numCPU := runtime.NumCPU()
	for i := 0; i < n; i++ {
		workers[i] = &Worker{ID: i, CPUIndex: i % numCPU}
		workers[i].idle.Store(true)
	}
	return &Pool{workers: workers, factory: factory, q: q, store: store, sink: sink}
}

// metricsInterval is how often Start's background goroutine refreshes the
// queue/cache gauges, which otherwise only change on a Submit/Poll/process
// call that may not happen for a while on an idle fleet.
const metricsInterval = 2 * time.Second

// inFlightDropper is implemented by cache.Store backends that track
// non-terminal evictions; RedisStore does not implement it, so the reporter
// degrades to reporting 0 for that gauge rather than requiring it on the
// Store interface.
type inFlightDropper interface {
	DroppedInFlight() int64
}

// Start launches one goroutine per worker. Each goroutine pins its own OS
// thread to its cpuset index via pinCurrentThread before entering its loop.
// It also launches a background goroutine that keeps the queue-depth,
// queue-capacity, cache-size, and dropped-in-flight gauges current.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	metrics.WorkersTotal.Set(float64(len(p.workers)))

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(ctx, w)
	}

	p.wg.Add(1)
	go p.reportMetrics(ctx)
}

// reportMetrics samples queue depth/capacity and cache size on an interval,
// stopping as soon as ctx is cancelled.
func (p *Pool) reportMetrics(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	p.sampleMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sampleMetrics()
		}
	}
}

func (p *Pool) sampleMetrics() {
	metrics.QueueDepth.Set(float64(p.q.Len()))
	metrics.QueueCapacity.Set(float64(p.q.Capacity()))
	metrics.CacheSize.Set(float64(p.store.Size()))

	if dropper, ok := p.store.(inFlightDropper); ok {
		metrics.CacheDroppedInFlight.Add(float64(dropper.DroppedInFlight()) - p.lastDropped)
		p.lastDropped = float64(dropper.DroppedInFlight())
	}
}

// Stop cancels every worker's context and waits for in-flight loops to
// return. A worker mid-execution still runs its session's teardown before
// this returns, since that teardown is wired through the executor's own
// defer, not through this context.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// IdleCount returns how many workers are currently between tasks.
func (p *Pool) IdleCount() int {
	n := 0
	for _, w := range p.workers {
		if w.Idle() {
			n++
		}
	}
	return n
}

func (p *Pool) runWorker(parent context.Context, w *Worker) {
	defer p.wg.Done()

	log := logging.WithWorkerID(w.ID)
	pinCurrentThread(w.CPUIndex, log)

	for {
		item, err := p.q.Take(parent)
		if err != nil {
			return
		}

		w.idle.Store(false)
		metrics.WorkersIdle.Set(float64(p.IdleCount()))

		p.process(parent, w, item, log)

		w.idle.Store(true)
		metrics.WorkersIdle.Set(float64(p.IdleCount()))
	}
}

// process runs exactly one task through a fresh executor, enforcing the
// submission's timeout with a helper goroutine that forces a kill for the
// uncancellable exec window, and always leaves a terminal entry in the
// cache before returning.
func (p *Pool) process(parent context.Context, w *Worker, item queue.Item, log zerolog.Logger) {
	sub := item.Submission
	t := task.Task{
		ID:         item.TaskID,
		Submission: sub,
		WorkerID:   w.ID,
		EnqueuedAt: time.Now(),
		StartedAt:  time.Now(),
		Status:     task.StatusProcessing,
	}
	p.store.Put(t.ID, t)

	cpuset := cpusetForIndex(w.CPUIndex)
	executor := p.factory(w.ID, cpuset)

	ctx, cancel := context.WithTimeout(parent, time.Duration(sub.TimeoutSeconds)*time.Second)
	defer cancel()

	type result struct {
		out task.ExecutionOutput
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: panicToError(r)}
			}
		}()
		out, err := executor.Execute(ctx, sub)
		done <- result{out: out, err: err}
	}()

	var (
		out      task.ExecutionOutput
		execErr  error
		timedOut bool
	)

	select {
	case r := <-done:
		out, execErr = r.out, r.err
	case <-ctx.Done():
		timedOut = true
		executor.Kill(context.Background())
		// The goroutine above is still running Session.close via its own
		// defer; give it a bounded grace window to finish teardown before
		// this worker moves to the next task.
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Warn().Str("task_id", t.ID.String()).Msg("executor did not return after kill within grace window")
		}
	}

	t.FinishedAt = time.Now()
	t.ProcessTime = t.FinishedAt.Sub(t.StartedAt).Seconds()
	t.Output = out

	switch {
	case timedOut:
		t.Status = task.StatusTimeout
		t.Output.Error = "execution timed out"
	case execErr != nil:
		t.Status = task.StatusError
		t.Output.Error = execErr.Error()
	default:
		t.Status = task.StatusDone
	}

	p.store.Put(t.ID, t)
	metrics.TasksCompletedTotal.WithLabelValues(string(t.Status)).Inc()
	metrics.TaskDuration.WithLabelValues(sub.Language).Observe(t.ProcessTime)
	p.sink.Push(t)
}

func panicToError(r interface{}) error {
	return &panicErr{v: r}
}

type panicErr struct{ v interface{} }

func (e *panicErr) Error() string {
	return "panic during execution: " + toString(e.v)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}
