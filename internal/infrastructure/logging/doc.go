// Package logging provides structured logging for periphctl.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
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
//	logger.Info("starting service", "port", 8080)
//	logger.Error("module init failed", "module", "i2c", "error", err)
//
// # Security
//
// Never log the api_key or the Wi-Fi password. Use Redact:
//
//	logger.Info("api key loaded", "key", logging.Redact(key))
package logging
