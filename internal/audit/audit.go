// Package audit provides a best-effort, fire-and-forget record of finished
// tasks. It is never consulted by the poll path — a missing or down Mongo
// instance must never affect task execution.
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/execlab/sandboxd/internal/logging"
	"github.com/execlab/sandboxd/internal/task"
)

var log = logging.WithComponent("audit")

// Record is one finished task's audit entry.
type Record struct {
	TaskID      string    `bson:"task_id"`
	Language    string    `bson:"language"`
	Status      string    `bson:"status"`
	WorkerID    int       `bson:"worker_id"`
	ProcessTime float64   `bson:"process_time"`
	FinishedAt  time.Time `bson:"finished_at"`
}

// Sink appends finished-task records to a MongoDB collection. A nil *Sink
// (returned when Mongo is unreachable or unconfigured) is valid and simply
// drops every record, so callers never need a separate "audit disabled"
// branch.
type Sink struct {
	collection *mongo.Collection
}

// Connect dials mongoURL and returns a Sink backed by database/"audit_log".
// On any failure it logs a warning and returns a nil *Sink rather than an
// error, since the audit sink is never load-bearing for task execution.
func Connect(ctx context.Context, mongoURL, database string) *Sink {
	if mongoURL == "" {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		log.Warn().Err(err).Msg("audit sink: mongo connect failed, audit disabled")
		return nil
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		log.Warn().Err(err).Msg("audit sink: mongo ping failed, audit disabled")
		return nil
	}

	return &Sink{collection: client.Database(database).Collection("audit_log")}
}

// Push appends t's audit record asynchronously. It never blocks the caller
// beyond spawning the goroutine and never surfaces an error: a failed
// insert is logged and forgotten.
func (s *Sink) Push(t task.Task) {
	if s == nil || s.collection == nil {
		return
	}

	rec := Record{
		TaskID:      t.ID.String(),
		Language:    t.Submission.Language,
		Status:      string(t.Status),
		WorkerID:    t.WorkerID,
		ProcessTime: t.ProcessTime,
		FinishedAt:  t.FinishedAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.collection.InsertOne(ctx, bson.M{
			"task_id":      rec.TaskID,
			"language":     rec.Language,
			"status":       rec.Status,
			"worker_id":    rec.WorkerID,
			"process_time": rec.ProcessTime,
			"finished_at":  rec.FinishedAt,
		}); err != nil {
			log.Warn().Err(err).Str("task_id", rec.TaskID).Msg("audit sink: insert failed")
		}
	}()
}

// Close disconnects the underlying Mongo client, if any.
func (s *Sink) Close(ctx context.Context) {
	if s == nil || s.collection == nil {
		return
	}
	_ = s.collection.Database().Client().Disconnect(ctx)
}
