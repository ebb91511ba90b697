// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler dispatches each record to two handlers. Used by
// NewChannelLogger to write simultaneously to the base (global) handler and
// a channel-dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() individually so DEBUG records aren't
	// dropped from the file handler just because the primary only accepts INFO.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// Write errors on the channel log file must never block the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewChannelLogger builds a logger that writes to both the base (global)
// logger and a dedicated file for one channel:
//
//	{channelLogDir}/{channelName}.log
//
// Returns the enriched logger, an io.Closer that must be called (defer) when
// the channel closes, and the path of the created file (channelLogDir
// joined with the file name, so relative if channelLogDir is relative).
//
// If channelLogDir is empty, the base logger is returned unmodified (no-op).
func NewChannelLogger(baseLogger *slog.Logger, channelLogDir, channelName string) (*slog.Logger, io.Closer, string, error) {
	if channelLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(channelLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating channel log directory %s: %w", channelLogDir, err)
	}

	logPath := filepath.Join(channelLogDir, channelName+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening channel log file %s: %w", logPath, err)
	}

	// The dedicated file always runs JSON at DEBUG for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}
