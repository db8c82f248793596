package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/results-harvester/internal/progress"
)

// PrometheusSink turns chunk events into chunk-level collectors. Identifier
// level counters live in the metrics package.
type PrometheusSink struct {
	chunksStarted  prometheus.Counter
	chunksFinished *prometheus.CounterVec
	chunksRunning  prometheus.Gauge
	chunkRuntime   *prometheus.HistogramVec
	chunkFailures  prometheus.Histogram

	tracker *chunkTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		chunksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_chunks_started_total",
			Help: "Chunks a worker has begun.",
		}),
		chunksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_chunks_finished_total",
			Help: "Chunks that reached a terminal stage, by result.",
		}, []string{"result"}),
		chunksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_chunks_running",
			Help: "Chunks currently being worked.",
		}),
		chunkRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_chunk_runtime_seconds",
			Help:    "Wall time per finished chunk.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		chunkFailures: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_chunk_failed_identifiers",
			Help:    "Failed identifiers per finished chunk.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		tracker: &chunkTracker{running: make(map[string]struct{})},
	}
	for _, c := range []prometheus.Collector{
		s.chunksStarted, s.chunksFinished, s.chunksRunning, s.chunkRuntime, s.chunkFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		key := evt.BatchID + "/" + strconv.Itoa(evt.Chunk)
		if evt.Stage == progress.StageChunkStart {
			s.chunksStarted.Inc()
			if s.tracker.start(key) {
				s.chunksRunning.Inc()
			}
			continue
		}
		result := resultLabel(evt.Stage)
		s.chunksFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.chunkRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if evt.Stage != progress.StageChunkSkipped {
			s.chunkFailures.Observe(float64(evt.Stats.FailedCount()))
		}
		if s.tracker.complete(key) {
			s.chunksRunning.Dec()
		}
	}
	return nil
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageChunkError:
		return "error"
	case progress.StageChunkSkipped:
		return "skipped"
	default:
		return "success"
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type chunkTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func (t *chunkTracker) start(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *chunkTracker) complete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
