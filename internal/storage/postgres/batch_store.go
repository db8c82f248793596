package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/results-harvester/internal/results"
)

const insertBatchSQL = `
INSERT INTO batches (id, status, exam_code, profile, range_start, range_end, width, total, chunk_size,
	chunk_count, chunks_done, stats, chunk_errors, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const selectBatchSQL = `
SELECT id, status, exam_code, COALESCE(profile, ''), COALESCE(range_start, ''), COALESCE(range_end, ''),
	width, total, chunk_size, chunk_count, chunks_done, stats, chunk_errors, submitted_at, started_at, finished_at
FROM batches
WHERE id = $1`

const startBatchSQL = `
UPDATE batches
SET status = $2, started_at = COALESCE(started_at, CURRENT_TIMESTAMP)
WHERE id = $1 AND status = $3`

const lockBatchSQL = `
SELECT status, chunk_count, chunks_done, stats, chunk_errors
FROM batches
WHERE id = $1
FOR UPDATE`

const updateBatchProgressSQL = `
UPDATE batches
SET status = $2, chunks_done = $3, stats = $4, chunk_errors = $5,
	finished_at = CASE WHEN $6 THEN CURRENT_TIMESTAMP ELSE finished_at END
WHERE id = $1`

const cancelBatchSQL = `
UPDATE batches
SET status = $2, finished_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status IN ($3, $4)`

// CreateBatch inserts a new batch row.
func (s *Store) CreateBatch(ctx context.Context, batch results.Batch) error {
	stats, err := json.Marshal(batch.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	chunkErrors, err := json.Marshal(nonNil(batch.ChunkErrors))
	if err != nil {
		return fmt.Errorf("marshal chunk errors: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertBatchSQL,
		batch.ID,
		string(batch.Status),
		batch.ExamCode,
		batch.Profile,
		batch.RangeStart,
		batch.RangeEnd,
		batch.Width,
		batch.Total,
		batch.ChunkSize,
		batch.ChunkCount,
		batch.ChunksDone,
		stats,
		chunkErrors,
		batch.Submitted,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a single batch by its ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (results.Batch, error) {
	var (
		b           results.Batch
		status      string
		stats       []byte
		chunkErrors []byte
		started     *time.Time
		finished    *time.Time
	)
	err := s.pool.QueryRow(ctx, selectBatchSQL, batchID).Scan(
		&b.ID,
		&status,
		&b.ExamCode,
		&b.Profile,
		&b.RangeStart,
		&b.RangeEnd,
		&b.Width,
		&b.Total,
		&b.ChunkSize,
		&b.ChunkCount,
		&b.ChunksDone,
		&stats,
		&chunkErrors,
		&b.Submitted,
		&started,
		&finished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return results.Batch{}, fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
		}
		return results.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	b.Status = results.BatchStatus(status)
	b.Started = started
	b.Finished = finished
	if err := json.Unmarshal(stats, &b.Stats); err != nil {
		return results.Batch{}, fmt.Errorf("decode batch stats: %w", err)
	}
	if err := json.Unmarshal(chunkErrors, &b.ChunkErrors); err != nil {
		return results.Batch{}, fmt.Errorf("decode chunk errors: %w", err)
	}
	return b, nil
}

// MarkChunkStarted moves a queued batch to running.
func (s *Store) MarkChunkStarted(ctx context.Context, batchID string) error {
	if _, err := s.pool.Exec(ctx, startBatchSQL, batchID, string(results.BatchRunning), string(results.BatchQueued)); err != nil {
		return fmt.Errorf("start batch: %w", err)
	}
	return nil
}

// RecordChunk folds one chunk's stats into the batch under a row lock.
func (s *Store) RecordChunk(
	ctx context.Context,
	batchID string,
	index int,
	stats results.ChunkStats,
	chunkErr error,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", results.ErrStoreUnavailable, err)
	}
	if err := recordChunkTx(ctx, tx, batchID, index, stats, chunkErr); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk %d of %s: %w", index, batchID, err)
	}
	return nil
}

func recordChunkTx(
	ctx context.Context,
	tx pgx.Tx,
	batchID string,
	index int,
	stats results.ChunkStats,
	chunkErr error,
) error {
	var (
		status      string
		chunkCount  int
		chunksDone  int
		rawStats    []byte
		rawChunkErr []byte
	)
	err := tx.QueryRow(ctx, lockBatchSQL, batchID).Scan(&status, &chunkCount, &chunksDone, &rawStats, &rawChunkErr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("batch %s: %w", batchID, results.ErrNotFound)
		}
		return fmt.Errorf("lock batch: %w", err)
	}

	var total results.ChunkStats
	if err := json.Unmarshal(rawStats, &total); err != nil {
		return fmt.Errorf("decode batch stats: %w", err)
	}
	var chunkErrors []string
	if err := json.Unmarshal(rawChunkErr, &chunkErrors); err != nil {
		return fmt.Errorf("decode chunk errors: %w", err)
	}

	total.Merge(stats)
	if chunkErr != nil {
		chunkErrors = append(chunkErrors, fmt.Sprintf("chunk %d: %v", index, chunkErr))
	}
	chunksDone++
	finished := chunksDone >= chunkCount
	next := results.BatchStatus(status)
	if finished && next != results.BatchCanceled {
		next = results.BatchCompleted
	}

	encodedStats, err := json.Marshal(total)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	encodedErrors, err := json.Marshal(nonNil(chunkErrors))
	if err != nil {
		return fmt.Errorf("marshal chunk errors: %w", err)
	}
	if _, err := tx.Exec(ctx, updateBatchProgressSQL,
		batchID,
		string(next),
		chunksDone,
		encodedStats,
		encodedErrors,
		finished,
	); err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	return nil
}

// CancelBatch marks an unfinished batch canceled. Canceling a finished batch is a no-op.
func (s *Store) CancelBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx, cancelBatchSQL,
		batchID,
		string(results.BatchCanceled),
		string(results.BatchQueued),
		string(results.BatchRunning),
	)
	if err != nil {
		return fmt.Errorf("cancel batch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
