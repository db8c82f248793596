// Package scrape implements the single-identifier fetch-and-parse unit shared
// by the bulk workers and the live lookup path.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/telemetry"
)

// Outcome is a parsed record plus the raw page it came from.
type Outcome struct {
	Record results.ResultRecord
	Raw    []byte
}

// IdentifierValidator rejects malformed identifiers before any request.
type IdentifierValidator interface {
	Validate(id string) error
	Match(id string) (hallticket.Position, bool)
}

// PageInspector flags pages that carry no answer for the identifier.
type PageInspector interface {
	Busy(page results.Page) bool
}

// Unit performs exactly one portal request per call. It never touches the
// result store or the cache.
type Unit struct {
	fetcher   results.Fetcher
	parser    results.Parser
	validator IdentifierValidator
	inspector PageInspector
	clock     results.Clock
	logger    *zap.Logger
}

// New constructs a Unit. validator and inspector may be nil.
func New(
	fetcher results.Fetcher,
	parser results.Parser,
	validator IdentifierValidator,
	inspector PageInspector,
	clock results.Clock,
	logger *zap.Logger,
) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{
		fetcher:   fetcher,
		parser:    parser,
		validator: validator,
		inspector: inspector,
		clock:     clock,
		logger:    logger.Named("scrape"),
	}
}

// FetchAndParse returns the record for id, or an error matching one of
// results.ErrInvalidIdentifier, results.ErrFetchFailed, results.ErrNotFound
// (results.ErrParseIncomplete also matches it). On ErrParseIncomplete the
// Outcome still carries the raw page for archiving.
func (u *Unit) FetchAndParse(ctx context.Context, id, examCode string) (Outcome, error) {
	id = results.NormalizeIdentifier(id)
	ctx, span := telemetry.Start(ctx, "scrape.FetchAndParse",
		attribute.String("hall_ticket", id),
		attribute.String("exam_code", examCode),
	)
	out, err := u.fetchAndParse(ctx, id, examCode)
	// Not found is an answer, not a fault.
	if errors.Is(err, results.ErrNotFound) && !errors.Is(err, results.ErrParseIncomplete) {
		span.SetAttributes(attribute.Bool("not_found", true))
		telemetry.End(span, nil)
	} else {
		telemetry.End(span, err)
	}
	return out, err
}

func (u *Unit) fetchAndParse(ctx context.Context, id, examCode string) (Outcome, error) {
	if u.validator != nil {
		if err := u.validator.Validate(id); err != nil {
			return Outcome{}, err
		}
	}

	page, err := u.fetcher.FetchResult(ctx, id, examCode)
	if err != nil {
		if errors.Is(err, results.ErrFetchFailed) {
			return Outcome{}, err
		}
		if errors.Is(err, results.ErrNotFound) {
			return Outcome{Raw: page.Body}, err
		}
		return Outcome{}, fmt.Errorf("%w: %w", results.ErrFetchFailed, err)
	}
	if u.inspector != nil && u.inspector.Busy(page) {
		u.logger.Warn("portal returned a busy page", zap.String("hall_ticket", id), zap.Int("bytes", len(page.Body)))
		return Outcome{}, fmt.Errorf("%w: portal busy while fetching %s", results.ErrFetchFailed, id)
	}

	record, err := u.parser.Parse(id, page.Body)
	if err != nil {
		return Outcome{Raw: page.Body}, err
	}
	u.enrich(&record)
	return Outcome{Record: record, Raw: page.Body}, nil
}

func (u *Unit) enrich(record *results.ResultRecord) {
	if u.clock != nil {
		record.FetchedAt = u.clock.Now().UTC()
	} else {
		record.FetchedAt = time.Now().UTC()
	}
	if u.validator == nil {
		return
	}
	pos, ok := u.validator.Match(record.Identifier)
	if !ok {
		return
	}
	if record.Regulation == "" {
		record.Regulation = pos.Regulation.Name
	}
	if record.AcademicYear == "" {
		record.AcademicYear = pos.Regulation.YearPrefix
	}
	if record.CollegeCode == "" {
		record.CollegeCode = pos.College
	}
}
