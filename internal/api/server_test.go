package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	cachememory "github.com/JakeFAU/results-harvester/internal/cache/memory"
	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/lookup"
	"github.com/JakeFAU/results-harvester/internal/persist"
	queuememory "github.com/JakeFAU/results-harvester/internal/queue/memory"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/scrape"
	"github.com/JakeFAU/results-harvester/internal/storage/memory"
	"github.com/JakeFAU/results-harvester/internal/worker"
)

type testEnv struct {
	server  *Server
	queue   *queuememory.Queue
	batches *memory.BatchStore
	store   *memory.ResultStore
	scraper *stubScraper
	pinger  *stubPinger
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	registry, err := hallticket.NewRegistry(hallticket.Builtin()...)
	require.NoError(t, err)

	store := memory.NewResultStore(false)
	cache := cachememory.New(time.Hour)
	saver := persist.New(store, cache, zap.NewNop())
	scraper := &stubScraper{errs: make(map[string]error)}
	batches := memory.NewBatchStore()
	queue := queuememory.NewQueue(16)
	t.Cleanup(queue.Close)

	coordinator := batch.New(batches, queue, registry, &seqIDs{}, fixedClock{}, batch.Config{ExamCode: "1323", Workers: 4}, zap.NewNop())
	w := worker.New(worker.Deps{Scraper: scraper, Saver: saver}, zap.NewNop())
	pinger := &stubPinger{}

	if cfg.ExamCode == "" {
		cfg.ExamCode = "1323"
	}
	server := NewServer(Deps{
		Lookup:   lookup.New(cache, store, scraper, saver, cfg.ExamCode, zap.NewNop()),
		Batches:  coordinator,
		Worker:   w,
		Profiles: registry,
		Store:    pinger,
	}, cfg, zap.NewNop())

	return &testEnv{
		server:  server,
		queue:   queue,
		batches: batches,
		store:   store,
		scraper: scraper,
		pinger:  pinger,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetResultServesLiveThenCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/v1/results/23xz1a0501", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[lookup.Result](t, rec)
	require.Equal(t, results.SourceLive, res.Source)
	require.Equal(t, "23XZ1A0501", res.Record.Identifier)

	rec = env.do(t, http.MethodGet, "/v1/results/23XZ1A0501", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, results.SourceCache, decode[lookup.Result](t, rec).Source)
	require.Equal(t, 1, env.scraper.count())
}

func TestGetResultStatusCodes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.scraper.errs["23XZ1A0999"] = results.ErrNotFound
	env.scraper.errs["23XZ1A0998"] = fmt.Errorf("%w: timeout", results.ErrFetchFailed)
	env.scraper.errs["NOPE"] = fmt.Errorf("%w: %q", results.ErrInvalidIdentifier, "NOPE")

	cases := map[string]int{
		"23XZ1A0999": http.StatusNotFound,
		"23XZ1A0998": http.StatusServiceUnavailable,
		"nope":       http.StatusBadRequest,
	}
	for id, want := range cases {
		rec := env.do(t, http.MethodGet, "/v1/results/"+id, "")
		require.Equal(t, want, rec.Code, id)
	}
}

func TestSubmitAndCancelBatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/batches", `{"start":"220100000001","end":"220100000100","workers":4,"delay_ms":0}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[struct {
		BatchID string        `json:"batch_id"`
		Batch   results.Batch `json:"batch"`
	}](t, rec)
	require.Equal(t, "batch-1", body.BatchID)
	require.Equal(t, "100", body.Batch.Total)
	require.Equal(t, 4, body.Batch.ChunkCount)
	require.Equal(t, 4, env.queue.Len())

	task, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "220100000001", task.RangeStart)
	require.Equal(t, 12, task.Width)

	rec = env.do(t, http.MethodGet, "/v1/batches/batch-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, results.BatchQueued, decode[results.Batch](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/v1/batches/batch-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, results.BatchCanceled, decode[results.Batch](t, rec).Status)
}

func TestBatchErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/batches", `{"profile":"xz","start":"1","end":"9"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/batches", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/batches", `{"profile":"unknown"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/batches/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/batches/missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanBatchDoesNotEnqueue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/batches/plan", `{"profile":"xz","offset":100,"limit":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[batch.Plan](t, rec)
	require.Equal(t, "25", plan.Total)
	require.Equal(t, "7", plan.ChunkSize)
	require.Len(t, plan.Chunks, 4)
	require.Zero(t, env.queue.Len())
}

func TestRunWorkerWithIDs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.scraper.errs["23XZ1A0503"] = results.ErrNotFound
	env.scraper.errs["23XZ1A0504"] = fmt.Errorf("%w: reset", results.ErrFetchFailed)

	rec := env.do(t, http.MethodPost, "/v1/worker",
		`{"ids":["23XZ1A0501","23XZ1A0502","23XZ1A0503","23XZ1A0504"],"delay_ms":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[workerResponse](t, rec)
	require.Equal(t, workerResponse{
		Processed:   4,
		Success:     2,
		NotFound:    1,
		FailedCount: 1,
		Failed:      []string{"23XZ1A0504"},
	}, resp)

	students, _, _ := env.store.Counts()
	require.Equal(t, 2, students)
}

func TestRunWorkerWithRange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodPost, "/v1/worker", `{"start":"8","end":"12","width":12,"delay_ms":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, decode[workerResponse](t, rec).Success)
	require.Equal(t, []string{
		"000000000008", "000000000009", "000000000010", "000000000011", "000000000012",
	}, env.scraper.ids())
}

func TestRunWorkerRejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{MaxWorkerIDs: 3})

	for _, body := range []string{
		`{}`,
		`{"ids":["A"],"start":"1","end":"2"}`,
		`{"ids":["A","B","C","D"]}`,
		`{"start":"1","end":"10"}`,
		`{"start":"9","end":"1"}`,
		`{"start":"x","end":"1"}`,
		`{"ids":["A"],"delay_ms":-1}`,
	} {
		rec := env.do(t, http.MethodPost, "/v1/worker", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Zero(t, env.scraper.count())
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/v1/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Profiles []profileSummary `json:"profiles"`
	}](t, rec)
	require.Len(t, list.Profiles, 2)

	rec = env.do(t, http.MethodGet, "/v1/profiles/xz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[struct {
		Profile   profileSummary            `json:"profile"`
		Breakdown []hallticket.BreakdownRow `json:"breakdown"`
	}](t, rec)
	require.Equal(t, int64(13797), detail.Profile.Count)
	require.Len(t, detail.Breakdown, 6)

	rec = env.do(t, http.MethodGet, "/v1/profiles/none", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyzPingsStore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)

	env.pinger.setErr(results.ErrStoreUnavailable)
	require.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{APIKey: "secret"})

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/profiles", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/profiles?api_key=secret", "").Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "0190a4f6-6b1e-7c3a-8f00-1234567890ab")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "0190a4f6-6b1e-7c3a-8f00-1234567890ab", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.NotEqual(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type stubScraper struct {
	mu   sync.Mutex
	errs map[string]error
	seen []string
}

func (s *stubScraper) FetchAndParse(_ context.Context, id, _ string) (scrape.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, id)
	if err := s.errs[id]; err != nil {
		return scrape.Outcome{}, err
	}
	return scrape.Outcome{Record: results.ResultRecord{
		Identifier: id,
		Name:       "STUDENT " + id,
		Status:     results.StatusPass,
	}}, nil
}

func (s *stubScraper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *stubScraper) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (p *stubPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubPinger) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("batch-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return errors.New("no client")
	}
	return h.client.Close()
}
