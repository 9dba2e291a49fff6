// Package logging provides structured logging for the NBE bridge.
//
// This package wraps Go's standard log/slog package so that every component
// logs with the same format and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting bridge", "device", cfg.DeviceID())
//	logger.Error("refresh failed", "error", err)
//
// Never log the controller password or MQTT credentials.
package logging
