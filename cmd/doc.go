// Package cmd hosts the harvester's cobra commands.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, single
//     result lookup, batch submission/progress/cancel, inline chunk processing
//     and profile introspection.
//   - Batches: internal/batch.Coordinator partitions a profile or a numeric
//     range into contiguous chunks, persists the batch record and enqueues one
//     task per chunk on a bounded in-memory queue drained by a fixed worker pool.
//   - Scrape pipeline: each identifier is validated against the profile grammar,
//     fetched through the rate-limited Colly fetcher, screened by the busy-page
//     detector, parsed with goquery and saved to Postgres then the cache.
//   - Fanout: saved records are published to Pub/Sub when configured; pages that
//     parse incompletely are archived to local disk or GCS.
//   - Watcher: polls the portal index and starts a batch when a new result
//     announcement appears.
//
// Operational notes:
//   - Shutdown is driven by SIGINT/SIGTERM through the command context. Workers
//     record their chunk's progress before exiting.
//   - Configuration comes from a YAML file plus HARVESTER_* environment
//     variables (Viper). Logs are zap and metrics are Prometheus; chunk
//     lifecycle events feed both. OpenTelemetry tracing is opt-in.
//
// Commands: serve, scrape, plan, lookup, migrate, profiles.
package cmd
