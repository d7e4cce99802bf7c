// Package logging provides structured logging for the bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the sync engine, command router
// and infrastructure clients.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to hub", "url", cfg.Hub.URL)
//	logger.Error("send failed", "error", err)
//
// # Security
//
// Never log the hub token, MQTT password or signing key material.
package logging
