// Package stats keeps rolling blink statistics for a monitoring session.
//
// history.go is the bounded, insertion-ordered timestamp history shared with
// the trigger engine. aggregator.go records blink events and eye-state
// observations and produces a Stats snapshot on demand.
//
// "Blinks per minute" is the literal count of blinks in the trailing 60
// seconds, not a normalized rate; trigger thresholds are expressed against
// that count.
package stats
