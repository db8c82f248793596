package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/results-harvester/internal/results"
)

func TestBatchStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBatchStore()
	batch := results.Batch{ID: "b-1", Status: results.BatchQueued, ExamCode: "1323", ChunkCount: 2}

	require.NoError(t, store.CreateBatch(ctx, batch))
	require.Error(t, store.CreateBatch(ctx, batch))

	require.NoError(t, store.MarkChunkStarted(ctx, "b-1"))
	got, err := store.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, results.BatchRunning, got.Status)
	require.NotNil(t, got.Started)

	require.NoError(t, store.RecordChunk(ctx, "b-1", 0, results.ChunkStats{Processed: 3, Success: 2, NotFound: 1}, nil))
	got, err = store.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, results.BatchRunning, got.Status)
	require.Nil(t, got.Finished)

	err = store.RecordChunk(ctx, "b-1", 1, results.ChunkStats{Processed: 2, Failed: []string{"23XZ1A0505"}}, errors.New("store down"))
	require.NoError(t, err)
	got, err = store.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, results.BatchCompleted, got.Status)
	require.Equal(t, 5, got.Stats.Processed)
	require.Equal(t, []string{"23XZ1A0505"}, got.Stats.Failed)
	require.Equal(t, []string{"chunk 1: store down"}, got.ChunkErrors)
	require.NotNil(t, got.Finished)
}

func TestBatchStoreCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBatchStore()
	require.NoError(t, store.CreateBatch(ctx, results.Batch{ID: "b-2", Status: results.BatchQueued, ChunkCount: 1}))
	require.NoError(t, store.CancelBatch(ctx, "b-2"))

	require.NoError(t, store.RecordChunk(ctx, "b-2", 0, results.ChunkStats{}, nil))
	got, err := store.GetBatch(ctx, "b-2")
	require.NoError(t, err)
	require.Equal(t, results.BatchCanceled, got.Status)

	require.ErrorIs(t, store.CancelBatch(ctx, "missing"), results.ErrNotFound)
}
