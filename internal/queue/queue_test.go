package queue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rentwing/rentwing/internal/kv"
	"github.com/rentwing/rentwing/internal/model"
	"github.com/rentwing/rentwing/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*queue.Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := kv.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return queue.New(store), path
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	idA, err := q.Enqueue(ctx, model.QueueJob{Action: "addWing", Method: "POST", Payload: model.Record{"wing": "A"}})
	require.NoError(t, err)
	idB, err := q.Enqueue(ctx, model.QueueJob{Action: "saveUnitConfig", Method: "POST"})
	require.NoError(t, err)
	idC, err := q.Enqueue(ctx, model.QueueJob{Action: "savePayment", Method: "POST"})
	require.NoError(t, err)

	assert.Less(t, idA, idB)
	assert.Less(t, idB, idC)

	jobs, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"addWing", "saveUnitConfig", "savePayment"},
		[]string{jobs[0].Action, jobs[1].Action, jobs[2].Action})
	assert.Equal(t, "A", jobs[0].Payload.Str("wing"))
}

func TestQueue_NoDedup(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	job := model.QueueJob{Action: "addWing", Method: "POST", Payload: model.Record{"wing": "A"}}
	_, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, job)
	require.NoError(t, err)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueue_DeleteAndClear(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, model.QueueJob{Action: "a", Method: "POST"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, model.QueueJob{Action: "b", Method: "POST"})
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, id))
	jobs, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].Action)

	require.NoError(t, q.Clear(ctx))
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	store, err := kv.Open(path)
	require.NoError(t, err)
	q := queue.New(store)
	_, err = q.Enqueue(ctx, model.QueueJob{Action: "saveTenant", Method: "POST",
		Params: map[string]string{"wing": "A"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = kv.Open(path)
	require.NoError(t, err)
	defer store.Close()

	jobs, err := queue.New(store).List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "saveTenant", jobs[0].Action)
	assert.Equal(t, "A", jobs[0].Params["wing"])
	assert.False(t, jobs[0].EnqueuedAt.IsZero())
}

func TestQueue_ListLimit(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, model.QueueJob{Action: "a", Method: "POST"})
		require.NoError(t, err)
	}
	jobs, err := q.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
