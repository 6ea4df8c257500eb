package trigger

import (
	"fmt"
	"time"
)

// Mode selects which rule conditions may fire an alert.
type Mode string

const (
	ModeNoBlink Mode = "no_blink"
	ModeLowRate Mode = "low_rate"
	ModeBoth    Mode = "both"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNoBlink, ModeLowRate, ModeBoth:
		return true
	}
	return false
}

// Settings is an immutable snapshot of the trigger configuration. Values are
// assumed validated upstream.
type Settings struct {
	Mode Mode `json:"mode"`

	// NoBlinkSeconds is the gap since the last blink that fires a no-blink alert.
	NoBlinkSeconds float64 `json:"no_blink_seconds"`

	// LowRateThreshold is the minimum acceptable blinks per minute.
	LowRateThreshold float64 `json:"low_rate_threshold"`

	// LowRateDurationMinutes is the trailing window for the low-rate rule.
	LowRateDurationMinutes int `json:"low_rate_duration_minutes"`

	// AlertIntervalMinutes is the cooldown between two alerts.
	AlertIntervalMinutes int `json:"alert_interval_minutes"`

	// AlertMode is forwarded verbatim to the notification sink.
	AlertMode string `json:"alert_mode"`

	QuietHours QuietHours `json:"quiet_hours"`
}

// DefaultSettings mirrors the stock desktop configuration.
func DefaultSettings() Settings {
	return Settings{
		Mode:                   ModeBoth,
		NoBlinkSeconds:         20,
		LowRateThreshold:       12,
		LowRateDurationMinutes: 3,
		AlertIntervalMinutes:   15,
		AlertMode:              "blink",
		QuietHours: QuietHours{
			Start: ClockTime{Hour: 23},
			End:   ClockTime{Hour: 7},
		},
	}
}

// LowRateWindow returns the low-rate evaluation window.
func (s Settings) LowRateWindow() time.Duration {
	return time.Duration(s.LowRateDurationMinutes) * time.Minute
}

// Cooldown returns the minimum interval between alerts.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.AlertIntervalMinutes) * time.Minute
}

// ClockTime is a time of day with minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24h "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("trigger: clock time %q must use HH:MM 24h format", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String formats c as "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText encodes c as "HH:MM".
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses an "HH:MM" string.
func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// seconds returns the offset of c from midnight in seconds.
func (c ClockTime) seconds() int {
	return c.Hour*3600 + c.Minute*60
}

// QuietHours is a daily window during which alerts are suppressed.
type QuietHours struct {
	Enabled bool      `json:"enabled"`
	Start   ClockTime `json:"start"`
	End     ClockTime `json:"end"`
}

// Contains reports whether t falls inside the window, using t's location.
// A window with start < end is same-day [start, end); otherwise it wraps
// midnight and covers [start, 24:00) and [00:00, end).
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	now := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start, end := q.Start.seconds(), q.End.seconds()
	if start < end {
		return start <= now && now < end
	}
	return now >= start || now < end
}
