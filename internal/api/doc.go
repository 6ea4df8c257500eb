// Package api implements the HTTP control and ingest API for blinkd.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/stats      statistics snapshot
//	GET  /api/v1/status     full monitor status
//	POST /api/v1/frames     ingest frames (geometry or raw EAR values)
//	POST /api/v1/reset      start a new detection session
//	POST /api/v1/pause      {"minutes": n} with 0 < n <= 1440, or {"until": "tomorrow"}
//	POST /api/v1/resume     clear any pause
//	GET  /api/v1/threshold  current closure threshold
//	PUT  /api/v1/threshold  {"threshold": v}, clamped to [0.1, 0.4]
//	POST /api/v1/calibrate  {"seconds": n}, zero means the configured window
//	GET  /api/v1/settings   trigger settings
//	PUT  /api/v1/settings   partial or full settings update
//	GET  /api/v1/aggregate  persisted daily counts and last trigger time
//	GET  /metrics           Prometheus text exposition
//	GET  /ws                websocket event stream
//
// Every route except /metrics and /ws answers with Content-Type
// application/json. Mutating routes are guarded by the API key middleware
// when auth is enabled.
package api
