// Package api hosts the HTTP server, middleware, and streaming handlers.
// Notable routes:
//   - POST /process accepts a JSON array of {"id","url"} records and streams
//     one event per record back to the client.
//   - POST /process/csv accepts an id,url CSV upload with the same streaming
//     response; cleaned rows are reported in X-Dropped-* headers.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//
// Streams are newline-delimited JSON unless the client asks for
// text/event-stream, in which case each event is framed as an SSE data line.
package api
