// Package watcher polls the portal index and reports when the latest
// announcement changes. Detection is best effort: a missed poll only delays it.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	"github.com/JakeFAU/results-harvester/internal/metrics"
	"github.com/JakeFAU/results-harvester/internal/results"
)

// EventPortalUpdated is published when the latest announcement changes.
const EventPortalUpdated = "portal.updated"

const stateKey = "watcher:latest"

// Poll results, also used as metric labels.
const (
	ResultBaseline  = "baseline"
	ResultUnchanged = "unchanged"
	ResultChanged   = "changed"
	ResultError     = "error"
)

// ErrNoAnnouncement means the index page had no linked announcement.
var ErrNoAnnouncement = errors.New("no announcement link on portal index")

// Getter fetches a page by URL.
type Getter interface {
	Get(ctx context.Context, url string) (results.Page, error)
}

// StateStore remembers the last announcement between polls and restarts.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// Submitter starts a batch when an update is seen.
type Submitter interface {
	Submit(ctx context.Context, req batch.Request) (results.Batch, error)
}

// Config controls polling.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	IndexURL   string        `mapstructure:"index_url"`
	Interval   time.Duration `mapstructure:"interval"`
	AutoSubmit bool          `mapstructure:"auto_submit"`
	Profile    string        `mapstructure:"profile"`
	Workers    int           `mapstructure:"workers"`
}

// Watcher compares the portal's newest announcement with the last one seen.
type Watcher struct {
	getter    Getter
	state     StateStore
	publisher results.Publisher
	submitter Submitter
	clock     results.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Watcher. publisher and submitter may be nil.
func New(
	getter Getter,
	state StateStore,
	publisher results.Publisher,
	submitter Submitter,
	clock results.Clock,
	cfg Config,
	logger *zap.Logger,
) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		getter:    getter,
		state:     state,
		publisher: publisher,
		submitter: submitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("watcher"),
	}
}

// Run polls immediately and then on every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll checks the index once and returns one of the Result constants.
func (w *Watcher) Poll(ctx context.Context) (string, error) {
	result, err := w.poll(ctx)
	if err != nil {
		result = ResultError
	}
	metrics.ObserveWatcherPoll(result)
	return result, err
}

func (w *Watcher) poll(ctx context.Context) (string, error) {
	page, err := w.getter.Get(ctx, w.cfg.IndexURL)
	if err != nil {
		return "", fmt.Errorf("fetch portal index: %w", err)
	}
	latest, err := LatestAnnouncement(page.Body)
	if err != nil {
		return "", err
	}

	previous, seen, err := w.state.GetState(ctx, stateKey)
	if err != nil {
		return "", fmt.Errorf("read watcher state: %w", err)
	}
	if seen && previous == latest {
		return ResultUnchanged, nil
	}
	if err := w.state.SetState(ctx, stateKey, latest); err != nil {
		return "", fmt.Errorf("write watcher state: %w", err)
	}
	if !seen {
		w.logger.Info("recorded baseline announcement", zap.String("latest", latest))
		return ResultBaseline, nil
	}

	w.logger.Info("portal announcement changed", zap.String("previous", previous), zap.String("latest", latest))
	w.notify(ctx, previous, latest)
	w.autoSubmit(ctx, latest)
	return ResultChanged, nil
}

func (w *Watcher) notify(ctx context.Context, previous, latest string) {
	if w.publisher == nil {
		return
	}
	payload := map[string]any{
		"event":       EventPortalUpdated,
		"latest":      latest,
		"previous":    previous,
		"index_url":   w.cfg.IndexURL,
		"observed_at": w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, EventPortalUpdated, payload); err != nil {
		w.logger.Warn("publish portal update failed", zap.Error(err))
	}
}

func (w *Watcher) autoSubmit(ctx context.Context, latest string) {
	if !w.cfg.AutoSubmit || w.submitter == nil || w.cfg.Profile == "" {
		return
	}
	b, err := w.submitter.Submit(ctx, batch.Request{Profile: w.cfg.Profile, Workers: w.cfg.Workers})
	if err != nil {
		w.logger.Error("auto submit failed", zap.String("profile", w.cfg.Profile), zap.Error(err))
		return
	}
	w.logger.Info("auto submitted batch",
		zap.String("batch_id", b.ID),
		zap.String("profile", w.cfg.Profile),
		zap.String("announcement", latest),
	)
}

// LatestAnnouncement returns the text of the first link inside a table, which
// is where the portal lists its newest result release.
func LatestAnnouncement(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse portal index: %w", err)
	}
	text := strings.Join(strings.Fields(doc.Find("table a").First().Text()), " ")
	if text == "" {
		return "", ErrNoAnnouncement
	}
	return text, nil
}
