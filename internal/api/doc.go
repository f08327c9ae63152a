// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs plus status/result/cancel subroutes for job control.
//   - GET /v1/dlq and POST /v1/dlq/purge for dead-letter inspection.
//   - GET /v1/system/resources and /v1/system/breakers for health dashboards.
package api
