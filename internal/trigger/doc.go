// Package trigger implements the rule engine that turns blink statistics into
// alert decisions.
//
// Each Evaluate call walks a fixed sequence: pause, quiet hours, rule
// conditions (no-blink gap, sustained low rate), mode resolution, cooldown.
// Every step compares wall-clock time supplied by the caller; there are no
// internal timers, so a decision is reproducible from the engine state and now.
package trigger
