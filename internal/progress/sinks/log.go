package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/progress"
)

// LogSink writes one structured line per terminal chunk event. Starts are
// logged at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID),
			zap.Int("chunk", evt.Chunk),
			zap.String("stage", string(evt.Stage)),
		}
		if !evt.Terminal() {
			s.logger.Debug("chunk event", fields...)
			continue
		}
		fields = append(fields,
			zap.Int("processed", evt.Stats.Processed),
			zap.Int("success", evt.Stats.Success),
			zap.Int("not_found", evt.Stats.NotFound),
			zap.Int("failed", evt.Stats.FailedCount()),
			zap.Duration("dur", evt.Dur),
		)
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("chunk event", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
