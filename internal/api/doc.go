// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /healthz for probes and GET /metrics for Prometheus scraping.
//   - GET|POST /v1/qa answers a question (query parameter or JSON body).
//   - POST /v1/reindex recrawls with the larger caps and returns a summary.
//   - GET /v1/forecast/{symbol} proxies the predictor, serving a neutral
//     fallback with 503 when it fails.
//   - DELETE /v1/collections/{company} drops a company's indexed chunks.
package api
