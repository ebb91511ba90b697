// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command remoting-agent dials a remoting-controller, exports a
// host-stats probe, and serves inbound calls until the process is
// signalled.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/channel"
	"github.com/nishisan-dev/goremoting/internal/config"
	"github.com/nishisan-dev/goremoting/internal/demoexports"
	"github.com/nishisan-dev/goremoting/internal/logging"
	"github.com/nishisan-dev/goremoting/internal/pki"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
	"github.com/nishisan-dev/goremoting/internal/wiremode"
)

func main() {
	configPath := flag.String("config", "/etc/goremoting/agent.yaml", "path to agent config file")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agent error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger) error {
	tlsCfg, err := pki.NewClientTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("building client tls config: %w", err)
	}

	dialer := &tls.Dialer{Config: tlsCfg}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("dialing controller %s: %w", cfg.Server.Address, err)
	}

	localCap := capability.None
	for _, name := range cfg.Channel.Capabilities {
		if bit, ok := capability.ParseFlag(name); ok {
			localCap = localCap.With(bit)
		} else {
			logger.Warn("ignoring unknown capability flag", "flag", name)
		}
	}

	result, err := wiremode.Negotiate(conn, localCap, wiremode.Binary, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake with controller: %w", err)
	}

	transport, err := buildTransport(conn, cfg.Channel)
	if err != nil {
		conn.Close()
		return err
	}

	chLogger, chLogCloser, chLogPath, err := logging.NewChannelLogger(logger, cfg.Logging.ChannelLogDir, cfg.Agent.Name)
	if err != nil {
		conn.Close()
		return fmt.Errorf("building channel logger: %w", err)
	}
	defer chLogCloser.Close()
	if chLogPath != "" {
		logger.Info("channel log file opened", "path", chLogPath)
	}

	probe := demoexports.NewHostStatsProbe("/")

	builder := channel.Builder{
		Name:                     cfg.Agent.Name,
		Capability:               localCap,
		PipeWindowSize:           cfg.Channel.PipeWindowSizeRaw,
		UnexportLogSize:          cfg.Channel.UnexportLogSize,
		ArbitraryCallableAllowed: cfg.Channel.ArbitraryCallableAllowed,
		Logger:                   chLogger,
		Performer: func(_ context.Context, _ []byte, _ int64) ([]byte, bool) {
			stats, err := probe.Collect()
			if err != nil {
				return []byte(err.Error()), true
			}
			return stats, false
		},
	}
	ch := builder.Build(transport, result.RemoteCapability)
	ch.Start()

	if _, err := ch.Export(probe, []string{"HostStatsProbe"}); err != nil {
		logger.Warn("failed to export host-stats probe", "error", err)
	}

	logger.Info("agent connected", "controller", cfg.Server.Address, "remote_capability", result.RemoteCapability.String())

	<-ctx.Done()
	return ch.Close()
}

func buildTransport(conn net.Conn, cfg config.ChannelConfig) (rpcproto.Transport, error) {
	if cfg.Mode == "chunked" {
		return rpcproto.NewChunkedTransport(conn, cfg.FrameSize)
	}
	return rpcproto.NewClassicTransport(conn), nil
}
