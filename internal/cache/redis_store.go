package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/execlab/sandboxd/internal/task"
)

// taskEnvelope is RedisStore's own wire format. task.Task.MarshalJSON
// produces the lossy shape the HTTP API reports (task_id/status/output_dict/
// worker_id/timestamp/process_time) and has no matching UnmarshalJSON, so
// round-tripping a Task directly through encoding/json would silently zero
// every json:"-" field (Submission, EnqueuedAt, StartedAt, FinishedAt) on
// the next Get. The envelope instead carries every field Task holds.
type taskEnvelope struct {
	ID          uuid.UUID            `json:"id"`
	Submission  task.Submission      `json:"submission"`
	WorkerID    int                  `json:"worker_id"`
	EnqueuedAt  time.Time            `json:"enqueued_at"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Status      task.Status          `json:"status"`
	Output      task.ExecutionOutput `json:"output"`
	ProcessTime float64              `json:"process_time"`
}

func toEnvelope(t task.Task) taskEnvelope {
	return taskEnvelope{
		ID:          t.ID,
		Submission:  t.Submission,
		WorkerID:    t.WorkerID,
		EnqueuedAt:  t.EnqueuedAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
		Status:      t.Status,
		Output:      t.Output,
		ProcessTime: t.ProcessTime,
	}
}

func (e taskEnvelope) toTask() task.Task {
	return task.Task{
		ID:          e.ID,
		Submission:  e.Submission,
		WorkerID:    e.WorkerID,
		EnqueuedAt:  e.EnqueuedAt,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
		Status:      e.Status,
		Output:      e.Output,
		ProcessTime: e.ProcessTime,
	}
}

// RedisStore is an optional Store backend for operators running more than
// one sandboxd process behind a shared Redis, so a poll landing on a
// different process than the one that finished the task still finds it.
// It does not provide durability across restarts: Open flushes the capped
// order list and the entries it lists, so a restart starts from an empty
// cache exactly like
// MemoryStore does. It also does not implement distributed *scheduling* —
// each process still pulls from and drains its own in-process TaskQueue.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	orderKey  string
	capacity  int
}

// NewRedisStore builds a RedisStore bound to client, namespaced under
// keyPrefix, holding at most capacity entries.
func NewRedisStore(client *redis.Client, keyPrefix string, capacity int) *RedisStore {
	if capacity < 1 {
		capacity = 1
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		orderKey:  keyPrefix + ":order",
		capacity:  capacity,
	}
}

// NewRedisStoreFromURL parses redisURL, dials Redis, and opens a fresh
// RedisStore for this process's lifetime (flushing any stale order list
// left behind by a previous process that used the same keyPrefix).
func NewRedisStoreFromURL(ctx context.Context, redisURL, keyPrefix string, capacity int) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	store := NewRedisStore(client, keyPrefix, capacity)
	if err := store.Open(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Open resets the insertion-order list, and the entries it lists, for a
// fresh process lifetime.
func (r *RedisStore) Open(ctx context.Context) error {
	ids, err := r.client.LRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			r.client.Del(ctx, r.entryKey(id))
		}
	}
	return r.client.Del(ctx, r.orderKey).Err()
}

func (r *RedisStore) entryKey(id uuid.UUID) string {
	return r.keyPrefix + ":entry:" + id.String()
}

// Put mirrors MemoryStore.Put: update-in-place for existing keys, otherwise
// push to the back of the order list and evict from the front once over
// capacity.
func (r *RedisStore) Put(id uuid.UUID, t task.Task) {
	ctx := context.Background()
	data, err := json.Marshal(toEnvelope(t))
	if err != nil {
		return
	}

	exists, _ := r.client.Exists(ctx, r.entryKey(id)).Result()
	r.client.Set(ctx, r.entryKey(id), data, 0)

	if exists == 1 {
		return
	}

	r.client.RPush(ctx, r.orderKey, id.String())
	for {
		n, err := r.client.LLen(ctx, r.orderKey).Result()
		if err != nil || n <= int64(r.capacity) {
			break
		}
		oldest, err := r.client.LPop(ctx, r.orderKey).Result()
		if err != nil {
			break
		}
		oldestID, err := uuid.Parse(oldest)
		if err == nil {
			r.client.Del(ctx, r.entryKey(oldestID))
		}
	}
}

func (r *RedisStore) Get(id uuid.UUID) (task.Task, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, r.entryKey(id)).Bytes()
	if err != nil {
		return task.Task{}, false
	}
	var e taskEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return task.Task{}, false
	}
	return e.toTask(), true
}

func (r *RedisStore) Delete(id uuid.UUID) {
	ctx := context.Background()
	r.client.Del(ctx, r.entryKey(id))
	r.client.LRem(ctx, r.orderKey, 1, id.String())
}

func (r *RedisStore) Size() int {
	ctx := context.Background()
	n, err := r.client.LLen(ctx, r.orderKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
