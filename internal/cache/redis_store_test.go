package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execlab/sandboxd/internal/task"
)

// TestTaskEnvelopeRoundTripPreservesAllFields guards against RedisStore
// regressing to marshal/unmarshal a task.Task directly, which would silently
// zero every json:"-" field (Submission, EnqueuedAt, StartedAt, FinishedAt)
// on the next Get since Task has a custom MarshalJSON but no matching
// UnmarshalJSON.
func TestTaskEnvelopeRoundTripPreservesAllFields(t *testing.T) {
	want := task.Task{
		ID: task.NewID(),
		Submission: task.Submission{
			Language:       "python",
			Code:           "print(1)",
			TimeoutSeconds: 30,
		},
		WorkerID:    3,
		EnqueuedAt:  time.Unix(1000, 0).UTC(),
		StartedAt:   time.Unix(1001, 0).UTC(),
		FinishedAt:  time.Unix(1002, 0).UTC(),
		Status:      task.StatusDone,
		Output:      task.ExecutionOutput{Stdout: "1\n"},
		ProcessTime: 1.5,
	}

	data, err := json.Marshal(toEnvelope(want))
	require.NoError(t, err)

	var e taskEnvelope
	require.NoError(t, json.Unmarshal(data, &e))
	got := e.toTask()

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Submission, got.Submission)
	assert.Equal(t, want.WorkerID, got.WorkerID)
	assert.True(t, want.EnqueuedAt.Equal(got.EnqueuedAt))
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Output, got.Output)
	assert.Equal(t, want.ProcessTime, got.ProcessTime)
}
