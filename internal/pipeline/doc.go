// Package pipeline wires one camera stream's detection chain together.
//
// A Monitor owns an eye.Analyzer, a blink.Machine, a stats.Aggregator and a
// trigger.Engine. Frames are processed synchronously by ProcessFrame or
// ProcessRatios; blink and alert events are pushed onto a bounded channel
// returned by Events. Run evaluates the trigger rules on a ticker and hands
// fired decisions to a notify.Sink.
//
// The analyzer and state machine are guarded by a single mutex so frames and
// control calls (SetThreshold, Calibrate, Reset) may come from different
// goroutines. The trigger engine carries its own locking.
package pipeline
