// Package api hosts the optional operator HTTP endpoint:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
