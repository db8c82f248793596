package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/results-harvester/internal/results"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan results.ChunkTask, 1)
	errCh := make(chan error, 1)

	go func() {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- task
	}()

	require.NoError(t, q.Enqueue(context.Background(), results.ChunkTask{BatchID: "b-1", Index: 2}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "b-1", got.BatchID)
		require.Equal(t, 2, got.Index)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), results.ChunkTask{BatchID: "primed"}))
	require.Equal(t, 1, full.Len())
	require.EqualError(t, full.Enqueue(ctx, results.ChunkTask{}), "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), results.ChunkTask{}), ErrClosed)
	q.Close()
}

func TestQueueCloseReleasesBlockedProducer(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), results.ChunkTask{BatchID: "b-1", Index: 0}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), results.ChunkTask{BatchID: "b-1", Index: 1})
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, task.Index)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
