package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// BatchStore keeps batch progress in memory for development and tests.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]results.Batch
	now     func() time.Time
}

// NewBatchStore constructs a BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: make(map[string]results.Batch),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch stores a new batch.
func (s *BatchStore) CreateBatch(_ context.Context, batch results.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	batch.ChunkErrors = append([]string(nil), batch.ChunkErrors...)
	s.batches[batch.ID] = batch
	return nil
}

// GetBatch returns a copy of the batch.
func (s *BatchStore) GetBatch(_ context.Context, batchID string) (results.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return results.Batch{}, fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
	}
	return clone(b), nil
}

// MarkChunkStarted moves a queued batch to running.
func (s *BatchStore) MarkChunkStarted(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
	}
	if b.Status == results.BatchQueued {
		b.Status = results.BatchRunning
		b.Started = pointerTime(s.now())
	}
	s.batches[batchID] = b
	return nil
}

// RecordChunk folds one chunk's stats into the batch.
func (s *BatchStore) RecordChunk(
	_ context.Context,
	batchID string,
	index int,
	stats results.ChunkStats,
	chunkErr error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
	}
	b.Stats.Merge(stats)
	if chunkErr != nil {
		b.ChunkErrors = append(b.ChunkErrors, fmt.Sprintf("chunk %d: %v", index, chunkErr))
	}
	b.ChunksDone++
	if b.ChunksDone >= b.ChunkCount {
		if b.Status != results.BatchCanceled {
			b.Status = results.BatchCompleted
		}
		b.Finished = pointerTime(s.now())
	}
	s.batches[batchID] = b
	return nil
}

// CancelBatch marks an unfinished batch canceled.
func (s *BatchStore) CancelBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
	}
	if b.Status == results.BatchQueued || b.Status == results.BatchRunning {
		b.Status = results.BatchCanceled
		b.Finished = pointerTime(s.now())
		s.batches[batchID] = b
	}
	return nil
}

func clone(b results.Batch) results.Batch {
	b.Stats.Failed = append([]string(nil), b.Stats.Failed...)
	b.ChunkErrors = append([]string(nil), b.ChunkErrors...)
	return b
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
