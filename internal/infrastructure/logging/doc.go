// Package logging is the bridge's structured logging layer, a thin wrapper
// over log/slog. Every record is stamped with the service name and build
// version; level and format (JSON for machines, text for a terminal) come
// from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Long-lived components derive a child logger carrying their identity once,
// so per-event call sites stay short:
//
//	log := logger.With("device_id", dev.ID)
//	log.Info("session state changed", "state", state)
//
// Pairing PINs, JWT secrets and broker credentials must never be logged.
package logging
