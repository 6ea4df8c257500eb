// Package config loads and watches the blinkd configuration file (config.yaml).
//
// Top-level types:
//   - Config{Detection, Trigger, Store, Notify, Server, Log}: the full tree
//   - DetectionConfig: analyzer and state machine tuning; AnalyzerOptions()
//     and BlinkOptions() convert it for internal/eye and internal/blink
//   - TriggerConfig: alert rules and quiet hours; Settings() builds a
//     trigger.Settings snapshot
//   - StoreConfig, NotifyConfig: aggregate store backend and alert targets;
//     secrets are referenced by environment variable name
//   - ServerConfig, LogConfig: listeners and logging
//
// Load(path) reads the YAML file, applies defaults, then validates ranges
// and enums. Watch(ctx, path, log, onChange) uses fsnotify to reload the
// file and calls onChange only with configs that validate.
package config
