package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blinkwatch/blinkwatch/internal/blink"
	"github.com/blinkwatch/blinkwatch/internal/eye"
	"github.com/blinkwatch/blinkwatch/internal/stats"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultEvaluateInterval  = time.Second
	DefaultBroadcastInterval = time.Second
	DefaultBufferSize        = 256
	DefaultHTTPAddr          = ":8080"
	DefaultGRPCAddr          = ":50051"
	DefaultRedisKeyPrefix    = "blinkwatch:"
	DefaultMQTTTopic         = "blinkwatch/alerts"
	DefaultMQTTClientID      = "blinkd"
	DefaultAuthHeader        = "x-api-key"
)

// Config is the top-level configuration of blinkd.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Detection DetectionConfig `yaml:"detection"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// DetectionConfig tunes the openness analyzer and the blink state machine.
type DetectionConfig struct {
	// EARThreshold is the initial closure threshold.
	EARThreshold float64 `yaml:"ear_threshold"`

	// AdaptiveBaseline lets the threshold follow the open-eye baseline.
	AdaptiveBaseline bool    `yaml:"adaptive_baseline"`
	BaselineAlpha    float64 `yaml:"baseline_alpha"`

	SmoothWindow      int `yaml:"smooth_window"`
	ConsecutiveFrames int `yaml:"consecutive_frames"`

	// ManualHoldFrames suspends adaptive updates after a manual or
	// calibrated threshold. Zero disables the hold.
	ManualHoldFrames int `yaml:"manual_hold_frames"`

	BlinkConsecutiveFrames int `yaml:"blink_consecutive_frames"`
	MinBlinkDurationMs     int `yaml:"min_blink_duration_ms"`
	MaxBlinkDurationMs     int `yaml:"max_blink_duration_ms"`

	// HistoryCapacity bounds both blink histories.
	HistoryCapacity int `yaml:"history_capacity"`

	// CalibrationWindow is how long calibration collects samples.
	CalibrationWindow time.Duration `yaml:"calibration_window"`
}

// AnalyzerOptions converts the section to analyzer options.
func (d DetectionConfig) AnalyzerOptions() eye.Options {
	return eye.Options{
		Threshold:         d.EARThreshold,
		ConsecutiveFrames: d.ConsecutiveFrames,
		SmoothWindow:      d.SmoothWindow,
		Adaptive:          d.AdaptiveBaseline,
		BaselineAlpha:     d.BaselineAlpha,
		HoldFrames:        d.ManualHoldFrames,
	}
}

// BlinkOptions converts the section to state machine options.
func (d DetectionConfig) BlinkOptions() blink.Options {
	return blink.Options{
		ConsecutiveFrames: d.BlinkConsecutiveFrames,
		MinDuration:       time.Duration(d.MinBlinkDurationMs) * time.Millisecond,
		MaxDuration:       time.Duration(d.MaxBlinkDurationMs) * time.Millisecond,
	}
}

// TriggerConfig holds the alert rules.
type TriggerConfig struct {
	// Mode is one of: no_blink | low_rate | both.
	Mode                   string  `yaml:"mode"`
	NoBlinkSeconds         float64 `yaml:"no_blink_seconds"`
	LowRateThreshold       float64 `yaml:"low_rate_threshold"`
	LowRateDurationMinutes int     `yaml:"low_rate_duration_minutes"`
	AlertIntervalMinutes   int     `yaml:"alert_interval_minutes"`

	// AlertMode is one of: blink | irritation | popup.
	AlertMode string `yaml:"alert_mode"`

	// EvaluateInterval is how often statistics are evaluated.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`

	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
}

// QuietHoursConfig is a daily HH:MM window during which alerts are suppressed.
type QuietHoursConfig struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

// Settings converts the section to a trigger settings snapshot.
func (t TriggerConfig) Settings() (trigger.Settings, error) {
	start, err := trigger.ParseClock(t.QuietHours.Start)
	if err != nil {
		return trigger.Settings{}, fmt.Errorf("trigger.quiet_hours.start: %w", err)
	}
	end, err := trigger.ParseClock(t.QuietHours.End)
	if err != nil {
		return trigger.Settings{}, fmt.Errorf("trigger.quiet_hours.end: %w", err)
	}
	return trigger.Settings{
		Mode:                   trigger.Mode(t.Mode),
		NoBlinkSeconds:         t.NoBlinkSeconds,
		LowRateThreshold:       t.LowRateThreshold,
		LowRateDurationMinutes: t.LowRateDurationMinutes,
		AlertIntervalMinutes:   t.AlertIntervalMinutes,
		AlertMode:              t.AlertMode,
		QuietHours: trigger.QuietHours{
			Enabled: t.QuietHours.Enabled,
			Start:   start,
			End:     end,
		},
	}, nil
}

// StoreConfig configures the aggregate store.
type StoreConfig struct {
	// Backend is one of: memory | redis | postgres.
	Backend string `yaml:"backend"`

	// Enabled toggles recording. A disabled store keeps its data.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the number of pending records held while the backend
	// is slow or unreachable.
	BufferSize int `yaml:"buffer_size"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds the redis backend settings.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`

	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// Password returns the redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// PostgresConfig holds the postgres backend settings.
type PostgresConfig struct {
	// DSNEnv is the name of the environment variable holding the DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string {
	if p.DSNEnv == "" {
		return ""
	}
	return os.Getenv(p.DSNEnv)
}

// NotifyConfig lists the alert delivery targets. Alerts are always logged.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// MQTTConfig enables publishing alerts to a broker when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	// HTTPAddr serves the REST API, /metrics and the WebSocket hub.
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr"`

	// BroadcastInterval is how often stats are pushed to WebSocket clients.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Auth protects the control endpoints and the gRPC listener.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header carries the key. Defaults to x-api-key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	ts := trigger.DefaultSettings()
	return &Config{
		Detection: DetectionConfig{
			EARThreshold:           eye.DefaultThreshold,
			AdaptiveBaseline:       true,
			BaselineAlpha:          eye.DefaultBaselineAlpha,
			SmoothWindow:           eye.DefaultSmoothWindow,
			ConsecutiveFrames:      eye.DefaultConsecutiveFrames,
			ManualHoldFrames:       eye.DefaultHoldFrames,
			BlinkConsecutiveFrames: blink.DefaultConsecutiveFrames,
			MinBlinkDurationMs:     int(blink.DefaultMinDuration / time.Millisecond),
			MaxBlinkDurationMs:     int(blink.DefaultMaxDuration / time.Millisecond),
			HistoryCapacity:        stats.DefaultHistoryCapacity,
			CalibrationWindow:      eye.DefaultCalibrationWindow,
		},
		Trigger: TriggerConfig{
			Mode:                   string(ts.Mode),
			NoBlinkSeconds:         ts.NoBlinkSeconds,
			LowRateThreshold:       ts.LowRateThreshold,
			LowRateDurationMinutes: ts.LowRateDurationMinutes,
			AlertIntervalMinutes:   ts.AlertIntervalMinutes,
			AlertMode:              ts.AlertMode,
			EvaluateInterval:       DefaultEvaluateInterval,
			QuietHours: QuietHoursConfig{
				Enabled: ts.QuietHours.Enabled,
				Start:   ts.QuietHours.Start.String(),
				End:     ts.QuietHours.End.String(),
			},
		},
		Store: StoreConfig{
			Backend:    "memory",
			Enabled:    true,
			BufferSize: DefaultBufferSize,
			Redis:      RedisConfig{KeyPrefix: DefaultRedisKeyPrefix},
		},
		Notify: NotifyConfig{
			MQTT: MQTTConfig{Topic: DefaultMQTTTopic, ClientID: DefaultMQTTClientID},
		},
		Server: ServerConfig{
			HTTPAddr:          DefaultHTTPAddr,
			GRPCAddr:          DefaultGRPCAddr,
			BroadcastInterval: DefaultBroadcastInterval,
			Auth:              AuthConfig{Mode: "none", Header: DefaultAuthHeader},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// validate checks ranges and enums.
func validate(cfg *Config) error {
	d := cfg.Detection
	if err := inRange("detection.ear_threshold", d.EARThreshold, 0.1, 0.4); err != nil {
		return err
	}
	if d.BaselineAlpha <= 0 || d.BaselineAlpha > 1 {
		return fmt.Errorf("detection.baseline_alpha must be in (0, 1], got %v", d.BaselineAlpha)
	}
	if d.SmoothWindow < 1 {
		return fmt.Errorf("detection.smooth_window must be positive")
	}
	if d.ConsecutiveFrames < 1 {
		return fmt.Errorf("detection.consecutive_frames must be positive")
	}
	if d.ManualHoldFrames < 0 {
		return fmt.Errorf("detection.manual_hold_frames must not be negative")
	}
	if err := inRange("detection.blink_consecutive_frames", float64(d.BlinkConsecutiveFrames), 1, 5); err != nil {
		return err
	}
	if err := inRange("detection.min_blink_duration_ms", float64(d.MinBlinkDurationMs), 20, 200); err != nil {
		return err
	}
	if err := inRange("detection.max_blink_duration_ms", float64(d.MaxBlinkDurationMs), 200, 1000); err != nil {
		return err
	}
	if d.MinBlinkDurationMs > d.MaxBlinkDurationMs {
		return fmt.Errorf("detection.min_blink_duration_ms must not exceed max_blink_duration_ms")
	}
	if d.HistoryCapacity <= 0 {
		return fmt.Errorf("detection.history_capacity must be positive")
	}
	if d.CalibrationWindow <= 0 {
		return fmt.Errorf("detection.calibration_window must be positive")
	}

	t := cfg.Trigger
	if t.EvaluateInterval <= 0 {
		return fmt.Errorf("trigger.evaluate_interval must be positive")
	}
	ts, err := t.Settings()
	if err != nil {
		return err
	}
	if err := ValidateSettings(ts); err != nil {
		return err
	}

	s := cfg.Store
	switch s.Backend {
	case "memory":
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case "postgres":
		if s.Postgres.DSNEnv == "" {
			return fmt.Errorf("store.postgres.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", s.Backend)
	}
	if s.BufferSize <= 0 {
		return fmt.Errorf("store.buffer_size must be positive")
	}

	for i, w := range cfg.Notify.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d]: unknown type %q", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("notify.webhooks[%d]: url_env is required", i)
		}
	}
	if m := cfg.Notify.MQTT; m.Broker != "" && m.Topic == "" {
		return fmt.Errorf("notify.mqtt.topic is required when a broker is set")
	}

	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}

	switch cfg.Server.Auth.Mode {
	case "none", "":
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required for apikey mode")
		}
		if cfg.Server.Auth.Header == "" {
			return fmt.Errorf("server.auth.header must not be empty")
		}
	default:
		return fmt.Errorf("server.auth.mode: unknown mode %q", cfg.Server.Auth.Mode)
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	return nil
}

// ValidateSettings checks a trigger settings snapshot against the accepted
// ranges. It guards both the config file and runtime updates.
func ValidateSettings(t trigger.Settings) error {
	if !t.Mode.Valid() {
		return fmt.Errorf("trigger.mode: unknown mode %q", t.Mode)
	}
	if err := inRange("trigger.no_blink_seconds", t.NoBlinkSeconds, 5, 120); err != nil {
		return err
	}
	if err := inRange("trigger.low_rate_threshold", t.LowRateThreshold, 5, 30); err != nil {
		return err
	}
	if err := inRange("trigger.low_rate_duration_minutes", float64(t.LowRateDurationMinutes), 1, 15); err != nil {
		return err
	}
	if err := inRange("trigger.alert_interval_minutes", float64(t.AlertIntervalMinutes), 1, 60); err != nil {
		return err
	}
	switch t.AlertMode {
	case "blink", "irritation", "popup":
	default:
		return fmt.Errorf("trigger.alert_mode: unknown mode %q", t.AlertMode)
	}
	return nil
}

func inRange(name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %v and %v, got %v", name, lo, hi, v)
	}
	return nil
}
