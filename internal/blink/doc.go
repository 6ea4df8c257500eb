// Package blink converts a per-frame "both eyes closed" signal into discrete
// blink events.
//
// A closure run starts on the first closed frame and ends on the first open
// frame. The run becomes an Event only when it lasted at least the configured
// number of frames and its duration falls inside [min, max]; shorter runs are
// flutter, longer runs are deliberate closures or looking away.
//
// Callers must supply non-decreasing timestamps. This is not checked: a run
// whose end precedes its start has a negative duration and never qualifies.
package blink
