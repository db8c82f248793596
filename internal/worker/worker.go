// Package worker implements the chunk execution loop: identifiers are fetched
// strictly in order, persisted, and tallied into batch progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/logging"
	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/partition"
	"github.com/JakeFAU/results-harvester/internal/progress"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/scrape"
	"github.com/JakeFAU/results-harvester/internal/telemetry"
)

// EventResultIngested is published after every successful save.
const EventResultIngested = "result.ingested"

// Scraper fetches and parses one identifier.
type Scraper interface {
	FetchAndParse(ctx context.Context, id, examCode string) (scrape.Outcome, error)
}

// Saver commits one record.
type Saver interface {
	Save(ctx context.Context, record results.ResultRecord) error
}

// Sleeper paces requests. Sleep returns early with an error when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// PageArchiver keeps raw pages for later inspection.
type PageArchiver interface {
	Incomplete(ctx context.Context, examCode, identifier string, body []byte) (string, error)
	Success(ctx context.Context, examCode, identifier string, body []byte) (string, error)
}

// Profiles resolves profile names for chunk tasks.
type Profiles interface {
	Get(name string) (*hallticket.Profile, error)
}

// Deps bundles the collaborators a Worker needs. Queue, Batches and Profiles
// are only required by Run.
type Deps struct {
	Scraper   Scraper
	Saver     Saver
	Sleeper   Sleeper
	Archiver  PageArchiver
	Publisher results.Publisher
	Queue     results.Queue
	Batches   results.BatchStore
	Profiles  Profiles
	// Progress receives chunk lifecycle events; nil disables them.
	Progress progress.Emitter
}

// Worker processes chunks. Workers share no mutable state.
type Worker struct {
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, logger: logger.Named("worker")}
}

// ProcessChunk walks ids in order, sleeping delay before every fetch after the
// first. A failing identifier never stops the chunk; only an unreachable store
// does, in which case the current and remaining identifiers are reported failed.
func (w *Worker) ProcessChunk(ctx context.Context, ids iter.Seq[string], examCode string, delay time.Duration) results.ChunkStats {
	var stats results.ChunkStats
	first := true
	for id := range ids {
		if stats.Aborted {
			stats.Processed++
			stats.Failed = append(stats.Failed, id)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if !first && w.deps.Sleeper != nil {
			if err := w.deps.Sleeper.Sleep(ctx, delay); err != nil {
				break
			}
		}
		first = false
		stats.Processed++

		err := w.processOne(ctx, id, examCode, &stats)
		if errors.Is(err, results.ErrStoreUnavailable) {
			w.logger.Error("store unavailable, aborting chunk", zap.String("hall_ticket", id), zap.Error(err))
			stats.Failed = append(stats.Failed, id)
			stats.Aborted = true
		}
	}
	return stats
}

func (w *Worker) processOne(ctx context.Context, id, examCode string, stats *results.ChunkStats) error {
	outcome, err := w.deps.Scraper.FetchAndParse(ctx, id, examCode)
	switch {
	case err == nil:
	case errors.Is(err, results.ErrParseIncomplete):
		stats.NotFound++
		stats.ParseIncomplete++
		metrics.ObserveIdentifier(metrics.OutcomeParseIncomplete)
		w.logger.Warn("page parsed incompletely", zap.String("hall_ticket", id), zap.Error(err))
		w.archiveIncomplete(ctx, examCode, id, outcome.Raw)
		return nil
	case errors.Is(err, results.ErrNotFound):
		stats.NotFound++
		metrics.ObserveIdentifier(metrics.OutcomeNotFound)
		return nil
	case errors.Is(err, results.ErrInvalidIdentifier):
		stats.Failed = append(stats.Failed, id)
		metrics.ObserveIdentifier(metrics.OutcomeInvalid)
		w.logger.Warn("identifier rejected", zap.String("hall_ticket", id), zap.Error(err))
		return nil
	default:
		stats.Failed = append(stats.Failed, id)
		metrics.ObserveIdentifier(metrics.OutcomeFailed)
		w.logger.Warn("fetch failed", zap.String("hall_ticket", id), zap.Error(err))
		return nil
	}

	if err := w.deps.Saver.Save(ctx, outcome.Record); err != nil {
		metrics.ObserveIdentifier(metrics.OutcomeFailed)
		if errors.Is(err, results.ErrStoreUnavailable) {
			return err
		}
		stats.Failed = append(stats.Failed, id)
		w.logger.Error("persist failed", zap.String("hall_ticket", id), zap.Error(err))
		return nil
	}
	stats.Success++
	metrics.ObserveIdentifier(metrics.OutcomeSuccess)

	if w.deps.Archiver != nil {
		if _, err := w.deps.Archiver.Success(ctx, examCode, id, outcome.Raw); err != nil {
			w.logger.Warn("archive failed", zap.String("hall_ticket", id), zap.Error(err))
		}
	}
	w.publish(ctx, examCode, outcome.Record)
	return nil
}

func (w *Worker) archiveIncomplete(ctx context.Context, examCode, id string, raw []byte) {
	if w.deps.Archiver == nil {
		return
	}
	uri, err := w.deps.Archiver.Incomplete(ctx, examCode, id, raw)
	if err != nil {
		w.logger.Warn("archive failed", zap.String("hall_ticket", id), zap.Error(err))
		return
	}
	if uri != "" {
		w.logger.Info("archived incomplete page", zap.String("hall_ticket", id), zap.String("uri", uri))
	}
}

func (w *Worker) publish(ctx context.Context, examCode string, rec results.ResultRecord) {
	if w.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"event":       EventResultIngested,
		"hall_ticket": rec.Identifier,
		"exam_code":   examCode,
		"status":      rec.Status,
		"sgpa":        rec.SGPA,
		"fetched_at":  rec.FetchedAt.Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, EventResultIngested, payload); err != nil {
		w.logger.Warn("publish failed", zap.String("hall_ticket", rec.Identifier), zap.Error(err))
	}
}

// Run blocks, consuming chunk tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, results.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued chunk", zap.String("batch_id", task.BatchID), zap.Int("chunk", task.Index))
		metrics.IncActiveWorkers()
		w.RunTask(ctx, task)
		metrics.DecActiveWorkers()
	}
}

// RunTask executes one chunk task and records its stats on the batch.
func (w *Worker) RunTask(ctx context.Context, task results.ChunkTask) {
	log := logging.Batch(w.logger, task.BatchID, task.ExamCode).With(zap.Int("chunk", task.Index))
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "worker.RunTask",
		attribute.String("batch_id", task.BatchID),
		attribute.Int("chunk", task.Index),
	)
	defer span.End()

	batch, err := w.deps.Batches.GetBatch(ctx, task.BatchID)
	if err != nil {
		log.Error("load batch failed", zap.Error(err))
		return
	}
	if batch.Status == results.BatchCanceled {
		log.Info("skipping chunk of canceled batch")
		w.record(ctx, log, task, results.ChunkStats{}, nil, progress.StageChunkSkipped, started)
		return
	}
	if err := w.deps.Batches.MarkChunkStarted(ctx, task.BatchID); err != nil {
		log.Warn("mark batch started failed", zap.Error(err))
	}
	w.emit(progress.Event{BatchID: task.BatchID, Chunk: task.Index, TS: started, Stage: progress.StageChunkStart})

	ids, err := w.identifiers(task)
	if err != nil {
		log.Error("resolve chunk identifiers failed", zap.Error(err))
		w.record(ctx, log, task, results.ChunkStats{}, err, progress.StageChunkError, started)
		return
	}

	stats := w.ProcessChunk(ctx, ids, task.ExamCode, task.Delay)
	var chunkErr error
	switch {
	case stats.Aborted:
		chunkErr = results.ErrStoreUnavailable
	case ctx.Err() != nil:
		chunkErr = fmt.Errorf("chunk interrupted: %w", ctx.Err())
	}
	log.Info("chunk finished",
		zap.Int("processed", stats.Processed),
		zap.Int("success", stats.Success),
		zap.Int("not_found", stats.NotFound),
		zap.Int("parse_incomplete", stats.ParseIncomplete),
		zap.Int("failed", stats.FailedCount()),
	)
	// Progress is recorded even when ctx is done so shutdown does not lose counts.
	w.record(context.WithoutCancel(ctx), log, task, stats, chunkErr, progress.StageChunkDone, started)
}

func (w *Worker) record(
	ctx context.Context,
	log *zap.Logger,
	task results.ChunkTask,
	stats results.ChunkStats,
	chunkErr error,
	stage progress.Stage,
	started time.Time,
) {
	if err := w.deps.Batches.RecordChunk(ctx, task.BatchID, task.Index, stats, chunkErr); err != nil {
		log.Error("record chunk failed", zap.Error(err))
	}
	evt := progress.Event{
		BatchID: task.BatchID,
		Chunk:   task.Index,
		TS:      time.Now(),
		Stage:   stage,
		Stats:   stats,
		Dur:     time.Since(started),
	}
	if chunkErr != nil {
		evt.Stage = progress.StageChunkError
		evt.Note = chunkErr.Error()
	}
	w.emit(evt)
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Progress != nil {
		w.deps.Progress.Emit(evt)
	}
}

func (w *Worker) identifiers(task results.ChunkTask) (iter.Seq[string], error) {
	if task.Profile != "" {
		if w.deps.Profiles == nil {
			return nil, fmt.Errorf("%w: no profile registry", results.ErrConfiguration)
		}
		p, err := w.deps.Profiles.Get(task.Profile)
		if err != nil {
			return nil, err
		}
		return p.Window(task.Offset, task.Limit), nil
	}
	start, err := partition.ParseBound(task.RangeStart)
	if err != nil {
		return nil, err
	}
	end, err := partition.ParseBound(task.RangeEnd)
	if err != nil {
		return nil, err
	}
	chunk := partition.RangeChunk{Index: task.Index, Start: start, End: end}
	return chunk.Numbers(task.Width), nil
}
