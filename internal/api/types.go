package api

import (
	"time"

	"github.com/blinkwatch/blinkwatch/internal/eye"
)

// FrameRequest is one frame in POST /api/v1/frames. Either both geometries
// or both EAR values must be set.
type FrameRequest struct {
	Timestamp time.Time    `json:"timestamp"`
	Left      eye.Geometry `json:"left,omitempty"`
	Right     eye.Geometry `json:"right,omitempty"`
	LeftEAR   *float64     `json:"left_ear,omitempty"`
	RightEAR  *float64     `json:"right_ear,omitempty"`
}

// PauseRequest is the payload for POST /api/v1/pause.
type PauseRequest struct {
	Minutes float64 `json:"minutes"`
	Until   string  `json:"until"`
}

// PauseResponse reports when the pause ends.
type PauseResponse struct {
	PausedUntil time.Time `json:"paused_until"`
}

// ThresholdRequest is the payload for PUT /api/v1/threshold.
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

// ThresholdResponse is the payload for GET|PUT /api/v1/threshold.
type ThresholdResponse struct {
	Threshold float64 `json:"threshold"`
}

// CalibrateRequest is the payload for POST /api/v1/calibrate.
type CalibrateRequest struct {
	Seconds float64 `json:"seconds"`
}

// CalibrateResponse reports the end of the collection window.
type CalibrateResponse struct {
	Deadline time.Time `json:"deadline"`
}

type errorResponse struct {
	Error string `json:"error"`
}
