// Package batch plans harvests, records them as batches and hands their chunks
// to the worker pool through the queue.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/logging"
	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/partition"
	"github.com/JakeFAU/results-harvester/internal/results"
)

// ErrInvalidRequest rejects a submission that cannot be planned.
var ErrInvalidRequest = errors.New("invalid batch request")

// Request describes one harvest. Exactly one of Profile or RangeStart/RangeEnd
// selects the identifiers.
type Request struct {
	ExamCode   string        `json:"exam_code"`
	Profile    string        `json:"profile,omitempty"`
	Offset     int64         `json:"offset,omitempty"`
	Limit      int64         `json:"limit,omitempty"`
	RangeStart string        `json:"start,omitempty"`
	RangeEnd   string        `json:"end,omitempty"`
	Width      int           `json:"width,omitempty"`
	Workers    int           `json:"workers,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
}

// PlannedChunk summarizes one chunk of a plan.
type PlannedChunk struct {
	Index int    `json:"index"`
	Count string `json:"count"`
	First string `json:"first"`
	Last  string `json:"last"`
}

// Plan is the partitioning of a request, before anything is enqueued.
type Plan struct {
	Request   Request             `json:"request"`
	Total     string              `json:"total"`
	ChunkSize string              `json:"chunk_size"`
	Chunks    []PlannedChunk      `json:"chunks"`
	Tasks     []results.ChunkTask `json:"-"`
}

// Config holds submission defaults and limits.
type Config struct {
	ExamCode       string        `mapstructure:"exam_code"`
	Workers        int           `mapstructure:"workers"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	Delay          time.Duration `mapstructure:"delay"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	// NumericWidths restricts range batches to identifier widths the
	// validator accepts. Empty allows any width.
	NumericWidths []int `mapstructure:"numeric_widths"`
}

// Enqueuer accepts chunk tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task results.ChunkTask) error
}

// Coordinator is the single entry point for batch submission and progress.
type Coordinator struct {
	batches  results.BatchStore
	queue    Enqueuer
	profiles *hallticket.Registry
	ids      results.IDGenerator
	clock    results.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Coordinator.
func New(
	batches results.BatchStore,
	queue Enqueuer,
	profiles *hallticket.Registry,
	ids results.IDGenerator,
	clock results.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 10
	}
	if cfg.MaxWorkers < cfg.Workers {
		cfg.MaxWorkers = max(cfg.Workers, 1000)
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		batches:  batches,
		queue:    queue,
		profiles: profiles,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("batch"),
	}
}

// Plan partitions req without side effects.
func (c *Coordinator) Plan(req Request) (Plan, error) {
	req = c.withDefaults(req)
	if req.Workers > c.cfg.MaxWorkers {
		return Plan{}, fmt.Errorf("%w: workers %d exceeds limit %d", ErrInvalidRequest, req.Workers, c.cfg.MaxWorkers)
	}
	if req.Delay < 0 {
		return Plan{}, fmt.Errorf("%w: negative delay", ErrInvalidRequest)
	}
	hasProfile := req.Profile != ""
	hasRange := req.RangeStart != "" || req.RangeEnd != ""
	switch {
	case hasProfile && hasRange:
		return Plan{}, fmt.Errorf("%w: profile and range are mutually exclusive", ErrInvalidRequest)
	case hasProfile:
		return c.planProfile(req)
	case hasRange:
		return c.planRange(req)
	default:
		return Plan{}, fmt.Errorf("%w: a profile or a numeric range is required", ErrInvalidRequest)
	}
}

func (c *Coordinator) withDefaults(req Request) Request {
	req.ExamCode = strings.TrimSpace(req.ExamCode)
	if req.ExamCode == "" {
		req.ExamCode = c.cfg.ExamCode
	}
	if req.Workers == 0 {
		req.Workers = c.cfg.Workers
	}
	if req.Delay == 0 {
		req.Delay = c.cfg.Delay
	}
	return req
}

func (c *Coordinator) planProfile(req Request) (Plan, error) {
	if c.profiles == nil {
		return Plan{}, fmt.Errorf("%w: no profiles registered", results.ErrConfiguration)
	}
	p, err := c.profiles.Get(req.Profile)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Profile = p.Name
	count := p.Count()
	if req.Offset < 0 || req.Offset > count {
		return Plan{}, fmt.Errorf("%w: offset %d outside [0, %d]", ErrInvalidRequest, req.Offset, count)
	}
	length := count - req.Offset
	if req.Limit > 0 {
		length = min(length, req.Limit)
	}
	size, chunks, err := partition.Chunks(length, req.Workers)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	plan := Plan{
		Request:   req,
		Total:     strconv.FormatInt(length, 10),
		ChunkSize: strconv.FormatInt(size, 10),
	}
	for _, ch := range chunks {
		start := req.Offset + ch.Start
		plan.Chunks = append(plan.Chunks, PlannedChunk{
			Index: ch.Index,
			Count: strconv.FormatInt(ch.Len(), 10),
			First: p.At(start),
			Last:  p.At(start + ch.Len() - 1),
		})
		plan.Tasks = append(plan.Tasks, results.ChunkTask{
			Index:    ch.Index,
			ExamCode: req.ExamCode,
			Delay:    req.Delay,
			Profile:  p.Name,
			Offset:   start,
			Limit:    ch.Len(),
		})
	}
	return plan, nil
}

func (c *Coordinator) planRange(req Request) (Plan, error) {
	start, err := partition.ParseBound(req.RangeStart)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	end, err := partition.ParseBound(req.RangeEnd)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Width == 0 {
		req.Width = len(strings.TrimSpace(req.RangeEnd))
	}
	if len(end.String()) > req.Width {
		return Plan{}, fmt.Errorf("%w: range end %s wider than %d digits", ErrInvalidRequest, end, req.Width)
	}
	if len(c.cfg.NumericWidths) > 0 && !slices.Contains(c.cfg.NumericWidths, req.Width) {
		return Plan{}, fmt.Errorf("%w: width %d is not a configured identifier width", ErrInvalidRequest, req.Width)
	}
	size, chunks, err := partition.Range(start, end, req.Workers)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	total := new(big.Int).Sub(end, start)
	total.Add(total, big.NewInt(1))
	plan := Plan{
		Request:   req,
		Total:     total.String(),
		ChunkSize: size.String(),
	}
	for _, ch := range chunks {
		first := partition.FormatNumeric(ch.Start, req.Width)
		last := partition.FormatNumeric(ch.End, req.Width)
		plan.Chunks = append(plan.Chunks, PlannedChunk{
			Index: ch.Index,
			Count: ch.Len().String(),
			First: first,
			Last:  last,
		})
		plan.Tasks = append(plan.Tasks, results.ChunkTask{
			Index:      ch.Index,
			ExamCode:   req.ExamCode,
			Delay:      req.Delay,
			RangeStart: ch.Start.String(),
			RangeEnd:   ch.End.String(),
			Width:      req.Width,
		})
	}
	return plan, nil
}

// Submit plans req, records the batch and enqueues one task per chunk.
func (c *Coordinator) Submit(ctx context.Context, req Request) (results.Batch, error) {
	plan, err := c.Plan(req)
	if err != nil {
		return results.Batch{}, err
	}
	id, err := c.ids.NewID()
	if err != nil {
		return results.Batch{}, fmt.Errorf("generate batch id: %w", err)
	}
	r := plan.Request
	b := results.Batch{
		ID:         id,
		Status:     results.BatchQueued,
		ExamCode:   r.ExamCode,
		Profile:    r.Profile,
		RangeStart: r.RangeStart,
		RangeEnd:   r.RangeEnd,
		Width:      r.Width,
		Total:      plan.Total,
		ChunkSize:  plan.ChunkSize,
		ChunkCount: len(plan.Tasks),
		Submitted:  c.clock.Now(),
	}
	if r.Profile != "" {
		b.Width = 0
	}
	if b.ChunkCount == 0 {
		b.Status = results.BatchCompleted
		b.Finished = &b.Submitted
	}
	if err := c.batches.CreateBatch(ctx, b); err != nil {
		return results.Batch{}, fmt.Errorf("create batch: %w", err)
	}

	log := logging.Batch(c.logger, id, b.ExamCode)
	for i, task := range plan.Tasks {
		task.BatchID = id
		if err := c.enqueue(ctx, task); err != nil {
			log.Error("enqueue failed, failing remaining chunks", zap.Int("chunk", task.Index), zap.Error(err))
			c.failRemaining(ctx, id, plan.Tasks[i:], err)
			metrics.ObserveBatch("enqueue_failed")
			return b, fmt.Errorf("enqueue chunk %d: %w", task.Index, err)
		}
	}
	metrics.ObserveBatch("submitted")
	log.Info("batch submitted",
		zap.String("total", b.Total),
		zap.Int("chunks", b.ChunkCount),
		zap.String("profile", b.Profile),
	)
	return b, nil
}

func (c *Coordinator) enqueue(ctx context.Context, task results.ChunkTask) error {
	queueCtx, cancel := context.WithTimeout(ctx, c.cfg.EnqueueTimeout)
	defer cancel()
	return c.queue.Enqueue(queueCtx, task)
}

func (c *Coordinator) failRemaining(ctx context.Context, batchID string, tasks []results.ChunkTask, cause error) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range tasks {
		if err := c.batches.RecordChunk(ctx, batchID, t.Index, results.ChunkStats{}, fmt.Errorf("not enqueued: %w", cause)); err != nil {
			c.logger.Error("record unqueued chunk failed", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
}

// Get returns a batch's progress.
func (c *Coordinator) Get(ctx context.Context, id string) (results.Batch, error) {
	b, err := c.batches.GetBatch(ctx, id)
	if err != nil {
		return results.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// Cancel stops chunks of the batch that have not started. Chunks already
// running finish their current identifier and are recorded as usual.
func (c *Coordinator) Cancel(ctx context.Context, id string) (results.Batch, error) {
	if err := c.batches.CancelBatch(ctx, id); err != nil {
		return results.Batch{}, fmt.Errorf("cancel batch: %w", err)
	}
	metrics.ObserveBatch("canceled")
	return c.Get(ctx, id)
}
