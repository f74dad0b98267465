package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execlab/sandboxd/internal/cache"
	"github.com/execlab/sandboxd/internal/metrics"
	"github.com/execlab/sandboxd/internal/queue"
	"github.com/execlab/sandboxd/internal/task"
)

// fakeExecutor is a scheduler.Executor double driven entirely by test setup,
// standing in for a real sandbox.Session.
type fakeExecutor struct {
	delay   time.Duration
	out     task.ExecutionOutput
	err     error
	killed  bool
}

func (f *fakeExecutor) Execute(ctx context.Context, sub task.Submission) (task.ExecutionOutput, error) {
	select {
	case <-time.After(f.delay):
		return f.out, f.err
	case <-ctx.Done():
		<-time.After(f.delay) // simulate the uncancellable exec window
		return f.out, ctx.Err()
	}
}

func (f *fakeExecutor) Kill(ctx context.Context) {
	f.killed = true
}

func TestPoolCompletesTaskSuccessfully(t *testing.T) {
	q := queue.New(4)
	store := cache.NewMemoryStore(16)
	exec := &fakeExecutor{out: task.ExecutionOutput{Stdout: "ok"}}

	pool := New(1, func(workerID int, cpuset string) Executor { return exec }, q, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	id := uuid.New()
	require.NoError(t, q.Submit(queue.Item{TaskID: id, Submission: task.Submission{Language: "python", Code: "x", TimeoutSeconds: 5}}))

	require.Eventually(t, func() bool {
		tk, ok := store.Get(id)
		return ok && tk.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	tk, _ := store.Get(id)
	assert.Equal(t, task.StatusDone, tk.Status)
	assert.Equal(t, "ok", tk.Output.Stdout)
}

func TestPoolMarksTimeoutAndKillsExecutor(t *testing.T) {
	q := queue.New(4)
	store := cache.NewMemoryStore(16)
	exec := &fakeExecutor{delay: 1500 * time.Millisecond}

	pool := New(1, func(workerID int, cpuset string) Executor { return exec }, q, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	id := uuid.New()
	require.NoError(t, q.Submit(queue.Item{TaskID: id, Submission: task.Submission{Language: "python", Code: "x", TimeoutSeconds: 1}}))

	require.Eventually(t, func() bool {
		tk, ok := store.Get(id)
		return ok && tk.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	tk, _ := store.Get(id)
	assert.Equal(t, task.StatusTimeout, tk.Status)
	assert.True(t, exec.killed)
}

func TestPoolMarksErrorOnExecutorFailure(t *testing.T) {
	q := queue.New(4)
	store := cache.NewMemoryStore(16)
	exec := &fakeExecutor{err: assertionError{"boom"}}

	pool := New(1, func(workerID int, cpuset string) Executor { return exec }, q, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	id := uuid.New()
	require.NoError(t, q.Submit(queue.Item{TaskID: id, Submission: task.Submission{Language: "python", Code: "x", TimeoutSeconds: 5}}))

	require.Eventually(t, func() bool {
		tk, ok := store.Get(id)
		return ok && tk.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	tk, _ := store.Get(id)
	assert.Equal(t, task.StatusError, tk.Status)
}

func TestIdleCountReflectsWorkerState(t *testing.T) {
	q := queue.New(1)
	store := cache.NewMemoryStore(4)
	exec := &fakeExecutor{delay: 200 * time.Millisecond}

	pool := New(2, func(workerID int, cpuset string) Executor { return exec }, q, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	assert.Equal(t, 2, pool.IdleCount())
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }

// TestSampleMetricsReflectsQueueAndCacheState guards against QueueDepth,
// QueueCapacity, CacheSize and CacheDroppedInFlight sitting unfed behind
// MustRegister: a zero-worker pool never drains its queue, so sampleMetrics
// must report what Submit/Put actually produced.
func TestSampleMetricsReflectsQueueAndCacheState(t *testing.T) {
	q := queue.New(3)
	store := cache.NewMemoryStore(2)

	pool := New(0, func(int, string) Executor { return &fakeExecutor{} }, q, store, nil)

	require.NoError(t, q.Submit(queue.Item{TaskID: uuid.New()}))
	store.Put(uuid.New(), task.Task{Status: task.StatusProcessing})
	store.Put(uuid.New(), task.Task{Status: task.StatusProcessing})
	// Evicts the first entry above while it is still non-terminal, so
	// DroppedInFlight advances by one.
	store.Put(uuid.New(), task.Task{Status: task.StatusProcessing})

	before := testutil.ToFloat64(metrics.CacheDroppedInFlight)
	pool.sampleMetrics()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QueueDepth))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.QueueCapacity))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheSize))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CacheDroppedInFlight))
}
