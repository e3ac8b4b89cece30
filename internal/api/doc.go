// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/providers lists the registered providers.
//   - POST /v1/jobs enqueues a job body on engines that accept submissions.
package api
