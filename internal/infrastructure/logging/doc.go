// Package logging provides structured logging for MergeBot.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way: JSON in production, text while developing, with
// service and version fields on each entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("battle finished", "outcome", "win", "rounds", 7)
//
// Components take a narrow Logger interface (Debug/Info/Warn/Error), which
// *Logger satisfies through the embedded slog.Logger.
package logging
