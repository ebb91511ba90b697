// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the full configuration for the remoting-agent demo
// embedder: it dials the controller and exports local callables/pipe
// sinks for it to use.
type AgentConfig struct {
	Agent   AgentInfo     `yaml:"agent"`
	Server  ServerAddr    `yaml:"server"`
	TLS     TLSClient     `yaml:"tls"`
	Channel ChannelConfig `yaml:"channel"`
	Logging LoggingInfo   `yaml:"logging"`
}

// AgentInfo identifies this agent in logs and as the channel's Name.
type AgentInfo struct {
	Name string `yaml:"name"`
}

// ServerAddr is the controller's dial address.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// LoadAgentConfig reads and validates the agent's YAML config file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent config: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing agent config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating agent config: %w", err)
	}
	return &cfg, nil
}

func (c *AgentConfig) validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if err := c.TLS.validate("tls"); err != nil {
		return err
	}
	if err := c.Channel.validate("channel"); err != nil {
		return err
	}
	c.Logging.applyDefaults()
	return nil
}
