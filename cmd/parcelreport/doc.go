// Package main hosts the parcel report service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and query endpoints. A submission is validated,
//     recorded in the query ledger, and fulfilled synchronously within the request; the response carries the
//     terminal state and, on success, the archive location.
//   - Admission: internal/quota.Controller reserves one usage unit per chargeable query through an atomic
//     conditional update in the usage store. The unit stays refundable until the archive is durable; every
//     non-completed terminal state releases it, so a user is billed exactly once per successful report.
//   - Fetch pipeline: internal/orchestrator fans out to the cadastral registry (mandatory) and the weather
//     service (optional) concurrently, under a shared retry policy of bounded attempts with exponential
//     backoff. The registry resolves coordinates through a ladder of endpoints (JSON callejero, INSPIRE WFS
//     GML, legacy XML) and a permanent registry failure cancels the in-flight weather fetch.
//   - Generation & bundling: internal/generate renders the PDF report (headless Chrome via chromedp), the KML
//     and GML geometry documents, and downloads the situation plan and orthophoto from the WMS services. A
//     failed generator degrades the report instead of failing it. internal/bundle zips everything
//     deterministically and publishes through the configured archive store (memory/local/GCS); the per-query
//     workspace is removed on every exit path.
//   - Persistence & fanout: query records and usage counters live in Postgres (or in-memory for development).
//     A completion event is published to Pub/Sub when a topic is configured; delivery is best effort.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: each request runs its own fetch fan-out; headless PDF rendering is bounded by its
//     own semaphore. Shutdown is coordinated via context cancellation from main; terminal ledger writes run
//     detached so a dropped client never loses a billing decision.
//   - Observability: zap logs carry query IDs at every transition; Prometheus counters/histograms track
//     queries, source fetches, artifacts and quota rejections.
//
// Quick checklist:
//   - Configure env vars: PARCELREPORT_SERVER_PORT, PARCELREPORT_WEATHER_API_KEY, PARCELREPORT_DB_DSN,
//     storage (PARCELREPORT_STORAGE_*), and pubsub project/topic when event fanout is required.
//   - Run locally: go run ./cmd/parcelreport -config config.yaml (or rely solely on env overrides).
package main
