// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide base logger for a remoting-agent or
// remoting-controller embedder. It always writes to stdout: per-channel
// file output is a separate concern, layered on top by NewChannelLogger
// once a Channel is actually built, not baked in here.
//
// Supported formats: "json" (default), "text".
// Supported levels: "debug", "info" (default), "warn", "error".
func NewLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
