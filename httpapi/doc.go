// Package httpapi serves the conversion API over HTTP. It mounts as a standard
// net/http handler in front of a measureservice.Service.
//
// Routes
//   - GET  /convert-measurements?input_str=...
//   - POST /convert-measurements with body {"input_str": "..."}
//   - GET  /history?limit=&after= (paginated, oldest first)
//   - GET  /schema (JSON Schema of the wire types)
//   - GET  /healthz
//   - GET  /metrics (Prometheus exposition, when configured)
//
// Both conversion routes respond with {"input_str": ..., "result": [...]}.
//
// Construction
//
//	h, err := httpapi.New(svc,
//	    httpapi.WithLogger(log),
//	    httpapi.WithRateLimit(30, 60),
//	    httpapi.WithMetrics(m, reg),
//	)
//
// Errors are reported as {"error":{"code":<status>,"message":"..."}}. Every
// response carries an X-Request-Id header; a caller-supplied value is echoed.
//
// # Rate limiting
//
// WithRateLimit applies a token bucket per remote IP. Rejected requests get
// 429 with a Retry-After header. /healthz and /metrics are never limited.
package httpapi
