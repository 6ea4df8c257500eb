// Package auth provides API key authentication for blinkd's listeners.
//
// UnaryInterceptor and StreamInterceptor validate the key carried in a gRPC
// metadata header. Middleware does the same for gin routes using an HTTP
// header.
//
// When mode != "apikey" or key == "", everything passes through, which is
// the local development default. A missing or wrong key is rejected with
// codes.Unauthenticated or HTTP 401.
package auth
