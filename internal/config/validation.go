package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string
	s := c.Sentinel

	if s.DataDir == "" {
		errors = append(errors, "sentinel.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		errors = append(errors, fmt.Sprintf("min_confidence must be between 0 and 100, got: %d", s.MinConfidence))
	}
	for label, level := range s.RiskLevels {
		if level < 0 || level > 2 {
			errors = append(errors, fmt.Sprintf("risk_levels[%s] must be 0, 1 or 2, got: %d", label, level))
		}
	}
	if s.WarmupFrames < 0 {
		errors = append(errors, fmt.Sprintf("warmup_frames must be >= 0, got: %d", s.WarmupFrames))
	}
	if s.DetectionsPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("detections_per_minute must be >= 0, got: %d", s.DetectionsPerMinute))
	}

	if s.Queue.Path == "" {
		errors = append(errors, "queue.path is required")
	}

	if _, _, err := net.SplitHostPort(s.Connectivity.Target); err != nil {
		errors = append(errors, fmt.Sprintf("connectivity.target must be host:port, got: %s", s.Connectivity.Target))
	}
	if s.Connectivity.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("connectivity.timeout must be > 0, got: %v", s.Connectivity.Timeout))
	}
	if s.Connectivity.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("connectivity.interval must be > 0, got: %v", s.Connectivity.Interval))
	}

	if len(s.Serial.Ports) == 0 {
		errors = append(errors, "serial.ports must list at least one device")
	}
	if s.Serial.Retries <= 0 {
		errors = append(errors, fmt.Sprintf("serial.retries must be > 0, got: %d", s.Serial.Retries))
	}
	if s.Serial.OpenTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("serial.open_timeout must be > 0, got: %v", s.Serial.OpenTimeout))
	}

	if s.Actuation.MaxDriveTime <= 0 {
		errors = append(errors, fmt.Sprintf("actuation.max_drive_time must be > 0, got: %v", s.Actuation.MaxDriveTime))
	}
	if s.Actuation.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("actuation.shutdown_timeout must be > 0, got: %v", s.Actuation.ShutdownTimeout))
	}
	for step, d := range s.Actuation.Steps {
		if d < 0 {
			errors = append(errors, fmt.Sprintf("actuation.steps.%s must be >= 0, got: %v", step, d))
		}
	}

	switch s.Remote.Backend {
	case "mongo":
		if s.Remote.URI == "" {
			errors = append(errors, "remote.uri (or MONGO_URI) is required for the mongo backend")
		}
	case "nats":
		if s.Remote.NATSURL == "" {
			errors = append(errors, "remote.nats_url is required for the nats backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid remote.backend: %s (must be: mongo or nats)", s.Remote.Backend))
	}

	if s.Notify.MQTT.Enabled && s.Notify.MQTT.Broker == "" {
		errors = append(errors, "notify.mqtt.broker is required when mqtt is enabled")
	}

	if s.Web.Enabled && (s.Web.Port <= 0 || s.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", s.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
