// Package aggstore keeps the privacy-preserving aggregate: a blink count per
// calendar day and the time of the last alert. Nothing else is persisted.
//
// Store has three backends: Memory, Redis and Postgres. Async sits in front
// of a Store as the trigger engine's Recorder. It queues records in a
// bounded buffer, evicting the oldest when full, and writes them from Run so
// the frame path never waits on I/O.
package aggstore
