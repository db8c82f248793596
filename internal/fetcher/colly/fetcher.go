// Package collyfetcher implements the portal transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// DefaultResultPath is the form action that returns one student's result page.
const DefaultResultPath = "/resultAction"

// Config controls collector behavior.
type Config struct {
	BaseURL    string
	ResultPath string
	UserAgent  string
	Timeout    time.Duration
}

// Waiter gates outbound requests, usually a ratelimit.Limiter.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements results.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	if cfg.ResultPath == "" {
		cfg.ResultPath = DefaultResultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Clones share the base collector's http.Client, so the client is only
	// configured here, before any request runs.
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&instrumentedTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
	}
}

// ResultURL is the endpoint every identifier is posted to.
func (f *Fetcher) ResultURL() string {
	return f.cfg.BaseURL + f.cfg.ResultPath
}

// FetchResult posts one identifier and exam code to the portal. Transport
// failures wrap results.ErrFetchFailed; non-success statuses wrap
// results.ErrNotFound and still return the page.
func (f *Fetcher) FetchResult(ctx context.Context, identifier, examCode string) (results.Page, error) {
	endpoint := f.ResultURL()
	form := map[string]string{
		"htno": identifier,
		"exid": examCode,
		"url":  f.cfg.BaseURL,
	}
	return f.do(ctx, endpoint, func(c *colly.Collector) error {
		return c.Post(endpoint, form)
	})
}

// Get fetches an arbitrary portal page with the same classification rules.
func (f *Fetcher) Get(ctx context.Context, url string) (results.Page, error) {
	return f.do(ctx, url, func(c *colly.Collector) error {
		return c.Visit(url)
	})
}

func (f *Fetcher) do(ctx context.Context, url string, send func(*colly.Collector) error) (results.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return results.Page{}, fmt.Errorf("%w: %w", results.ErrFetchFailed, err)
		}
	}
	var (
		page    results.Page
		respErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &page, &respErr)

	done := make(chan error, 1)
	go func() {
		done <- send(collector)
	}()

	select {
	case <-ctx.Done():
		return results.Page{}, fmt.Errorf("%w: colly fetch canceled: %w", results.ErrFetchFailed, ctx.Err())
	case err := <-done:
		return classify(url, page, respErr, err)
	}
}

func (f *Fetcher) buildCollector(start time.Time, page *results.Page, respErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	configureCollectorHooks(collector, start, page, respErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, start time.Time, page *results.Page, respErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = pageFrom(r, start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*page = pageFrom(r, start)
		}
		*respErr = err
	})
}

func pageFrom(r *colly.Response, start time.Time) results.Page {
	page := results.Page{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		page.URL = r.Request.URL.String()
	}
	return page
}

// classify maps the collector outcome onto the error taxonomy. A response
// with a status code is an answer from the portal; anything else is a
// transport failure.
func classify(url string, page results.Page, respErr, sendErr error) (results.Page, error) {
	if page.StatusCode != 0 {
		if page.StatusCode >= http.StatusOK && page.StatusCode < http.StatusMultipleChoices && respErr == nil {
			return page, nil
		}
		return page, fmt.Errorf("%w: %s returned status %d", results.ErrNotFound, url, page.StatusCode)
	}
	err := respErr
	if err == nil {
		err = sendErr
	}
	if err == nil {
		err = errors.New("no response")
	}
	return results.Page{}, fmt.Errorf("%w: %s: %w", results.ErrFetchFailed, url, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
