// Package lookup answers single-identifier reads from the cheapest tier that
// has the record: cache, then the durable store, then one live portal fetch.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/scrape"
	"github.com/JakeFAU/results-harvester/internal/telemetry"
)

// Result is the answer to one lookup. Record is zero when Source is not_found.
type Result struct {
	Source results.Source       `json:"source"`
	Record results.ResultRecord `json:"data"`
}

// Scraper performs the live fetch.
type Scraper interface {
	FetchAndParse(ctx context.Context, id, examCode string) (scrape.Outcome, error)
}

// Saver persists live results and seeds the cache.
type Saver interface {
	Save(ctx context.Context, record results.ResultRecord) error
	Warm(ctx context.Context, record results.ResultRecord)
}

// Service implements the tiered read path.
type Service struct {
	cache    results.Cache
	store    results.ResultStore
	scraper  Scraper
	saver    Saver
	examCode string
	logger   *zap.Logger
}

// New constructs a Service. cache may be nil.
func New(
	cache results.Cache,
	store results.ResultStore,
	scraper Scraper,
	saver Saver,
	examCode string,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:    cache,
		store:    store,
		scraper:  scraper,
		saver:    saver,
		examCode: examCode,
		logger:   logger.Named("lookup"),
	}
}

// Lookup resolves id. Not found is a Result, not an error. Transport failures
// on the live step become results.ErrUnavailable; malformed identifiers return
// results.ErrInvalidIdentifier.
func (s *Service) Lookup(ctx context.Context, id string) (Result, error) {
	id = results.NormalizeIdentifier(id)
	ctx, span := telemetry.Start(ctx, "lookup.Lookup", attribute.String("hall_ticket", id))
	res, err := s.lookup(ctx, id)
	if err == nil {
		span.SetAttributes(attribute.String("source", string(res.Source)))
	}
	telemetry.End(span, err)
	return res, err
}

func (s *Service) lookup(ctx context.Context, id string) (Result, error) {
	log := s.logger.With(zap.String("hall_ticket", id))

	if s.cache != nil {
		rec, found, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			log.Warn("cache read failed, treating as miss", zap.Error(err))
		case found:
			return s.hit(results.SourceCache, rec), nil
		}
	}

	rec, err := s.store.GetRecord(ctx, id)
	switch {
	case err == nil:
		s.saver.Warm(ctx, rec)
		return s.hit(results.SourceDatabase, rec), nil
	case !errors.Is(err, results.ErrNotFound):
		log.Warn("store read failed, falling through to live fetch", zap.Error(err))
	}

	outcome, err := s.scraper.FetchAndParse(ctx, id, s.examCode)
	switch {
	case err == nil:
	case errors.Is(err, results.ErrInvalidIdentifier):
		return Result{}, err
	case errors.Is(err, results.ErrNotFound):
		metrics.ObserveLookup(string(results.SourceNotFound))
		return Result{Source: results.SourceNotFound}, nil
	default:
		log.Warn("live fetch failed", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", results.ErrUnavailable, err)
	}

	if err := s.saver.Save(ctx, outcome.Record); err != nil {
		// The caller still gets the fresh record; the next batch or lookup retries the write.
		log.Error("persist live result failed", zap.Error(err))
	}
	return s.hit(results.SourceLive, outcome.Record), nil
}

func (s *Service) hit(source results.Source, rec results.ResultRecord) Result {
	metrics.ObserveLookup(string(source))
	return Result{Source: source, Record: rec}
}
