package collyfetcher

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/results-harvester/internal/metrics"
)

// instrumentedTransport records every portal round trip. Transport failures
// are recorded with status code 0.
type instrumentedTransport struct {
	base http.RoundTripper
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("portal transport received nil request")
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.ObservePortalRequest(0, time.Since(start))
		return nil, fmt.Errorf("portal roundtrip: %w", err)
	}
	metrics.ObservePortalRequest(resp.StatusCode, time.Since(start))
	return resp, nil
}
