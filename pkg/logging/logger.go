// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for Aleutian services.
//
// # Description
//
// Built on the standard slog package. Services log JSON to stdout so
// container runtimes and log shippers can pick lines up without
// configuration; local development can switch to the text handler for
// readability. Setup installs the configured logger as the slog default,
// so packages log through plain slog calls and never import this package.
//
// # Usage
//
//	logging.Setup(logging.Config{
//	    Level:   "info",
//	    Format:  logging.FormatJSON,
//	    Service: "aleutian-platform",
//	})
//	slog.Info("server started", "addr", addr)
//
// # Security Considerations
//
// Nothing here redacts sensitive values. Callers must not log secrets;
// log metadata instead ("token_present", key names, byte counts).
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler encoding.
type Format string

const (
	// FormatJSON emits one JSON object per line. The default for
	// containerized services.
	FormatJSON Format = "json"

	// FormatText emits slog's key=value text form for local runs.
	FormatText Format = "text"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is the minimum severity: "debug", "info", "warn", "error".
	// Unknown or empty means info.
	Level string

	// Format is the handler encoding. Empty means JSON.
	Format Format

	// Service, when set, is attached to every record as "service".
	Service string

	// AddSource includes the emitting file:line on each record.
	AddSource bool
}

// Setup builds a logger from cfg, installs it as the slog default, and
// returns it.
func Setup(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to its slog.Level. Case-insensitive;
// unknown names fall back to info rather than failing startup.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
