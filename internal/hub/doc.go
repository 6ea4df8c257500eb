// Package hub implements the WebSocket hub of blinkd.
//
// Hub manages a set of connected clients. It broadcasts the current
// statistics snapshot to all of them every interval and forwards blink and
// alert events as they happen.
//
// New(source, interval, log) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// statistics immediately on connect, then streams updates.
// Hub.Publish(event, data) pushes one event to every client.
//
// Message format sent to clients:
//
//	{
//	  "event": "stats" | "blink" | "alert",
//	  "data":  { ... }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws by the API router.
package hub
