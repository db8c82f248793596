// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the result store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/results/{hall_ticket} for tiered lookups.
//   - POST /v1/batches (and /plan), GET /v1/batches/{id}, POST /v1/batches/{id}/cancel.
//   - POST /v1/worker to process one chunk inline.
//   - GET /v1/profiles and /v1/profiles/{name} for enumeration sanity checks.
package api
