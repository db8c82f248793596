package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://results.example.com/path", "results.example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := identifiersTotal
	Init()
	if identifiersTotal != first || lookupsTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors exactly once")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(identifiersTotal.WithLabelValues(OutcomeParseIncomplete))
	ObserveIdentifier(OutcomeParseIncomplete)
	if got := testutil.ToFloat64(identifiersTotal.WithLabelValues(OutcomeParseIncomplete)); got != before+1 {
		t.Errorf("expected parse_incomplete counter to grow by 1, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(lookupsTotal.WithLabelValues("cache"))
	ObserveLookup("cache")
	if got := testutil.ToFloat64(lookupsTotal.WithLabelValues("cache")); got != before+1 {
		t.Errorf("expected cache lookups to grow by 1, got %f -> %f", before, got)
	}

	before = testutil.ToFloat64(cacheWriteFailuresTotal)
	ObserveCacheWriteFailure()
	if got := testutil.ToFloat64(cacheWriteFailuresTotal); got != before+1 {
		t.Errorf("expected cache write failures to grow by 1, got %f -> %f", before, got)
	}

	gauge := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != gauge {
		t.Errorf("expected active workers to return to %f, got %f", gauge, got)
	}

	ObservePortalRequest(200, 150*time.Millisecond)
	if val := testutil.CollectAndCount(portalRequestsTotal); val <= 0 {
		t.Errorf("expected portal requests to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://results.example.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
