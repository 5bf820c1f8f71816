// Package api hosts the status server that runs alongside a crawl. Notable
// routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/current and /v1/runs/{run_id} for run progress
//     reported through the Tracker.
package api
