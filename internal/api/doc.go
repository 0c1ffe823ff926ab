// Package api hosts the optional ops HTTP server that runs beside a harvest.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{run_id} for the live in-memory view.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/pages for the
//     persisted run ledger via store.RunRepository.
//
// The server never touches the browser session.
package api
