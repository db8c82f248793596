// Package persist writes validated records to the system of record and then
// seeds the cache tier.
package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/results"
)

// Saver pairs the durable store with the disposable cache.
type Saver struct {
	store  results.ResultStore
	cache  results.Cache
	logger *zap.Logger
}

// New constructs a Saver. cache may be nil.
func New(store results.ResultStore, cache results.Cache, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{store: store, cache: cache, logger: logger.Named("persist")}
}

// Save commits the record and then writes it to the cache. Cache failures are
// logged and counted, never returned: the store is the source of truth.
func (s *Saver) Save(ctx context.Context, record results.ResultRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", results.ErrPersistence, err)
	}
	if err := s.store.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("save %s: %w", record.Identifier, err)
	}
	s.Warm(ctx, record)
	return nil
}

// Warm writes the record to the cache on a best-effort basis.
func (s *Saver) Warm(ctx context.Context, record results.ResultRecord) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, record); err != nil {
		metrics.ObserveCacheWriteFailure()
		s.logger.Warn("cache write failed",
			zap.String("hall_ticket", record.Identifier),
			zap.Error(err),
		)
	}
}
