// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for the
// remoting-agent and remoting-controller demo embedders.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// TLSClient holds a dialer's mTLS material.
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

func (t TLSClient) validate(prefix string) error {
	if t.CACert == "" {
		return fmt.Errorf("%s.ca_cert is required", prefix)
	}
	if t.ClientCert == "" {
		return fmt.Errorf("%s.client_cert is required", prefix)
	}
	if t.ClientKey == "" {
		return fmt.Errorf("%s.client_key is required", prefix)
	}
	return nil
}

// TLSServer holds a listener's mTLS material.
type TLSServer struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

func (t TLSServer) validate(prefix string) error {
	if t.CACert == "" {
		return fmt.Errorf("%s.ca_cert is required", prefix)
	}
	if t.ServerCert == "" {
		return fmt.Errorf("%s.server_cert is required", prefix)
	}
	if t.ServerKey == "" {
		return fmt.Errorf("%s.server_key is required", prefix)
	}
	return nil
}

// ChannelConfig configures one Channel built via channel.Builder.
type ChannelConfig struct {
	// Mode selects the wire framing: "classic" (default) or "chunked".
	Mode string `yaml:"mode"`
	// FrameSize bounds chunk payload size when Mode is "chunked".
	FrameSize int `yaml:"frame_size"`
	// Capabilities lists the optional feature flags this endpoint
	// advertises, by the names in capability.Capability.String().
	Capabilities []string `yaml:"capabilities"`
	// PipeWindowSize is a human size ("256kb", "1mb"); default 128kb.
	PipeWindowSize string `yaml:"pipe_window_size"`
	// UnexportLogSize bounds the export table's diagnostic log.
	UnexportLogSize int `yaml:"unexport_log_size"`
	// ArbitraryCallableAllowed, when true, runs every inbound callable;
	// when false, a callable runs only if the channel's role checker
	// accepts it (the demo embedders set none, so all are refused).
	ArbitraryCallableAllowed bool `yaml:"arbitrary_callable_allowed"`

	PipeWindowSizeRaw int64 `yaml:"-"`
}

func (c *ChannelConfig) validate(prefix string) error {
	if c.Mode == "" {
		c.Mode = "classic"
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode != "classic" && c.Mode != "chunked" {
		return fmt.Errorf("%s.mode must be classic or chunked, got %q", prefix, c.Mode)
	}
	if c.Mode == "chunked" {
		if c.FrameSize <= 0 {
			c.FrameSize = 4096
		}
		if c.FrameSize > 0x7FFF {
			return fmt.Errorf("%s.frame_size must be at most 32767, got %d", prefix, c.FrameSize)
		}
	}
	if c.PipeWindowSize == "" {
		c.PipeWindowSize = "128kb"
	}
	raw, err := ParseByteSize(c.PipeWindowSize)
	if err != nil {
		return fmt.Errorf("%s.pipe_window_size: %w", prefix, err)
	}
	c.PipeWindowSizeRaw = raw
	if c.UnexportLogSize <= 0 {
		c.UnexportLogSize = 1024
	}
	return nil
}

// LoggingInfo configures the slog handler, following this project's
// own internal/logging package.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// ChannelLogDir, if set, makes each Channel get its own dedicated
	// debug-level log file under this directory (see
	// logging.NewChannelLogger), in addition to the base logger.
	ChannelLogDir string `yaml:"channel_log_dir"`
}

func (l *LoggingInfo) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// ParseByteSize converts human-readable sizes like "256kb", "1mb" to
// bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
