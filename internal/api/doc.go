// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources, /v1/search, and /v1/sources/{source}/mangas/{id}/chapters
//     for browsing providers.
//   - POST /v1/jobs, GET /v1/jobs[/{id}], POST /v1/jobs/{id}/cancel, and
//     GET /v1/queue for the download queue.
//   - GET /v1/events for the live progress websocket.
//   - GET /v1/history when a job history store is configured.
package api
