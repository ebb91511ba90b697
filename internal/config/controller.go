// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ControllerConfig is the full configuration for the remoting-controller
// demo embedder: it listens for agent connections and, optionally, runs
// a scheduled callable against each connected agent.
type ControllerConfig struct {
	Server   ServerListen   `yaml:"server"`
	TLS      TLSServer      `yaml:"tls"`
	Channel  ChannelConfig  `yaml:"channel"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingInfo    `yaml:"logging"`
}

// ServerListen is the controller's listen address.
type ServerListen struct {
	Listen string `yaml:"listen"`
}

// ScheduleConfig configures the controller's periodic callable
// invocation against every connected agent.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // robfig/cron/v3 expression, e.g. "*/5 * * * *"
}

// LoadControllerConfig reads and validates the controller's YAML
// config file.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading controller config: %w", err)
	}

	var cfg ControllerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing controller config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating controller config: %w", err)
	}
	return &cfg, nil
}

func (c *ControllerConfig) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if err := c.TLS.validate("tls"); err != nil {
		return err
	}
	if err := c.Channel.validate("channel"); err != nil {
		return err
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron is required when schedule.enabled is true")
	}
	c.Logging.applyDefaults()
	return nil
}
