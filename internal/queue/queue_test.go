package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execlab/sandboxd/internal/task"
)

func TestSubmitUpToCapacitySucceeds(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Submit(Item{TaskID: uuid.New(), Submission: task.Submission{Code: "a"}}))
	require.NoError(t, q.Submit(Item{TaskID: uuid.New(), Submission: task.Submission{Code: "b"}}))
	assert.Equal(t, 2, q.Len())
}

func TestSubmitBeyondCapacityReturnsErrFull(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Submit(Item{TaskID: uuid.New()}))
	err := q.Submit(Item{TaskID: uuid.New()})
	assert.ErrorIs(t, err, ErrFull)
}

func TestTakeReturnsInSubmitOrder(t *testing.T) {
	q := New(2)
	first := uuid.New()
	second := uuid.New()
	require.NoError(t, q.Submit(Item{TaskID: first}))
	require.NoError(t, q.Submit(Item{TaskID: second}))

	ctx := context.Background()
	got1, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got1.TaskID)

	got2, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got2.TaskID)
}

func TestTakeBlocksUntilCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapacityReportsConfiguredSize(t *testing.T) {
	q := New(7)
	assert.Equal(t, 7, q.Capacity())
}
