// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a pipeline run in the background.
//   - GET /v1/runs/current, /v1/runs/latest and /v1/runs/{run_id} for run
//     status, backed by the orchestrator and the run ledger.
package api
