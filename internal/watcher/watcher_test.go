package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/results-harvester/internal/batch"
	cachememory "github.com/JakeFAU/results-harvester/internal/cache/memory"
	pubmemory "github.com/JakeFAU/results-harvester/internal/publisher/memory"
	"github.com/JakeFAU/results-harvester/internal/results"
)

const indexV1 = `<html><body><table>
<tr><td><a href="/r/1">  B.Tech I Year II Sem (R22) Regular
 Results </a></td></tr>
<tr><td><a href="/r/0">Older results</a></td></tr>
</table></body></html>`

const indexV2 = `<html><body><table>
<tr><td><a href="/r/2">B.Tech II Year I Sem (R22) Results</a></td></tr>
</table></body></html>`

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func TestLatestAnnouncement(t *testing.T) {
	t.Parallel()

	got, err := LatestAnnouncement([]byte(indexV1))
	require.NoError(t, err)
	require.Equal(t, "B.Tech I Year II Sem (R22) Regular Results", got)

	_, err = LatestAnnouncement([]byte("<html><a>outside</a></html>"))
	require.ErrorIs(t, err, ErrNoAnnouncement)
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	getter := &pageGetter{body: indexV1}
	pub := pubmemory.New()
	sub := &recordingSubmitter{}
	w := New(getter, cachememory.New(time.Hour), pub, sub, fixedClock{}, Config{
		IndexURL:   "https://portal.example/index",
		AutoSubmit: true,
		Profile:    "xz",
		Workers:    4,
	}, zap.NewNop())

	result, err := w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultBaseline, result)

	result, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultUnchanged, result)
	require.Empty(t, pub.Messages())

	getter.set(indexV2)
	result, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultChanged, result)

	events := pub.Events(EventPortalUpdated)
	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "B.Tech II Year I Sem (R22) Results", payload["latest"])
	require.Equal(t, []batch.Request{{Profile: "xz", Workers: 4}}, sub.requests)
	require.Equal(t, "https://portal.example/index", getter.lastURL())
}

func TestPollDetectsChangeWithCacheDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	getter := &pageGetter{body: indexV1}
	pub := pubmemory.New()
	w := New(getter, cachememory.NewNoop(), pub, nil, fixedClock{}, Config{IndexURL: "https://portal.example/index"}, zap.NewNop())

	result, err := w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultBaseline, result)

	result, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultUnchanged, result)

	getter.set(indexV2)
	result, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, ResultChanged, result)
	require.Len(t, pub.Events(EventPortalUpdated), 1)
}

func TestPollFetchError(t *testing.T) {
	t.Parallel()

	getter := &pageGetter{err: results.ErrFetchFailed}
	w := New(getter, cachememory.NewNoop(), nil, nil, fixedClock{}, Config{}, nil)
	result, err := w.Poll(context.Background())
	require.ErrorIs(t, err, results.ErrFetchFailed)
	require.Equal(t, ResultError, result)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	getter := &pageGetter{body: indexV1}
	w := New(getter, cachememory.New(time.Hour), nil, nil, fixedClock{}, Config{Interval: time.Hour}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return getter.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

type pageGetter struct {
	mu   sync.Mutex
	body string
	err  error
	url  string
	n    int
}

func (g *pageGetter) Get(_ context.Context, url string) (results.Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	g.url = url
	if g.err != nil {
		return results.Page{}, g.err
	}
	return results.Page{URL: url, StatusCode: 200, Body: []byte(g.body)}, nil
}

func (g *pageGetter) set(body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.body = body
}

func (g *pageGetter) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func (g *pageGetter) lastURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.url
}

type recordingSubmitter struct {
	requests []batch.Request
}

func (r *recordingSubmitter) Submit(_ context.Context, req batch.Request) (results.Batch, error) {
	r.requests = append(r.requests, req)
	if req.Profile == "" {
		return results.Batch{}, errors.New("no profile")
	}
	return results.Batch{ID: "b-1"}, nil
}
