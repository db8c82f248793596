package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/results-harvester/internal/progress"
	"github.com/JakeFAU/results-harvester/internal/results"
)

func chunkEvents() []progress.Event {
	now := time.Now()
	return []progress.Event{
		{BatchID: "b1", Chunk: 0, TS: now, Stage: progress.StageChunkStart},
		{BatchID: "b1", Chunk: 1, TS: now, Stage: progress.StageChunkStart},
		{
			BatchID: "b1", Chunk: 0, TS: now.Add(time.Minute), Stage: progress.StageChunkDone,
			Stats: results.ChunkStats{Processed: 5, Success: 4, Failed: []string{"x"}},
			Dur:   time.Minute,
		},
		{
			BatchID: "b1", Chunk: 1, TS: now.Add(time.Minute), Stage: progress.StageChunkError,
			Note: "result store unavailable", Dur: 30 * time.Second,
		},
		{BatchID: "b1", Chunk: 2, TS: now, Stage: progress.StageChunkSkipped},
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), chunkEvents()))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.chunksStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.chunksFinished.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.chunksFinished.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.chunksFinished.WithLabelValues("skipped")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.chunksRunning), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.chunkRuntime, "harvester_chunk_runtime_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), chunkEvents()))

	require.Equal(t, 5, logs.Len())
	require.Equal(t, 3, logs.FilterLevelExact(zapcore.InfoLevel).Len())
	errLine := logs.FilterField(zap.String("stage", string(progress.StageChunkError))).All()
	require.Len(t, errLine, 1)
	require.Equal(t, "result store unavailable", errLine[0].ContextMap()["note"])
}
