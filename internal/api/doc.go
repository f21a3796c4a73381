// Package api implements the HTTP and WebSocket transport of periphctl.
//
// Routes:
//
//	POST /execute, /api/v1/execute   command batch in, protocol response out
//	GET  /api/v1/health              dependency checks
//	GET  /api/v1/modules             registered modules with state and functions
//	GET  /api/v1/status              runtime, dispatcher and module counters
//	GET  /metrics                    Prometheus exposition (when enabled)
//	GET  /api/v1/settings            Wi-Fi and api_key settings, secrets redacted
//	PUT  /api/v1/settings            partial settings update
//	GET  /api/v1/history             persisted command log
//	GET  /api/v1/ws                  WebSocket: command.executed events, execute
//
// Settings, history and the WebSocket require the api_key in the X-API-Key
// header (or the api_key query parameter). The execute endpoints carry the
// key inside the batch and always answer 200 with the protocol document;
// only an empty or oversized body gets a transport error.
package api
