// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command remoting-controller listens for agent connections, negotiates
// a channel per connection, and optionally re-invokes a configured
// remote callable against every connected agent on a cron schedule.
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
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/channel"
	"github.com/nishisan-dev/goremoting/internal/config"
	"github.com/nishisan-dev/goremoting/internal/logging"
	"github.com/nishisan-dev/goremoting/internal/pki"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
	"github.com/nishisan-dev/goremoting/internal/wiremode"
)

func main() {
	configPath := flag.String("config", "/etc/goremoting/controller.yaml", "path to controller config file")
	flag.Parse()

	cfg, err := config.LoadControllerConfig(*configPath)
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
		logger.Error("controller error", "error", err)
		os.Exit(1)
	}
}

// fleet tracks the channels currently open to connected agents, so a
// scheduled job can fan a call out to all of them.
type fleet struct {
	mu       sync.Mutex
	channels map[string]*channel.Channel
}

func newFleet() *fleet {
	return &fleet{channels: make(map[string]*channel.Channel)}
}

func (f *fleet) add(id string, ch *channel.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = ch
}

func (f *fleet) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
}

func (f *fleet) snapshot() map[string]*channel.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*channel.Channel, len(f.channels))
	for id, ch := range f.channels {
		out[id] = ch
	}
	return out
}

func run(ctx context.Context, cfg *config.ControllerConfig, logger *slog.Logger) error {
	tlsCfg, err := pki.NewServerTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("configuring server tls: %w", err)
	}

	ln, err := tls.Listen("tcp", cfg.Server.Listen, tlsCfg)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	defer ln.Close()

	logger.Info("controller listening", "address", cfg.Server.Listen)

	localCap := capability.None
	for _, name := range cfg.Channel.Capabilities {
		if bit, ok := capability.ParseFlag(name); ok {
			localCap = localCap.With(bit)
		} else {
			logger.Warn("ignoring unknown capability flag", "flag", name)
		}
	}

	agents := newFleet()

	var scheduler *cron.Cron
	if cfg.Schedule.Enabled {
		scheduler = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
		if _, err := scheduler.AddFunc(cfg.Schedule.Cron, func() {
			pollFleet(agents, logger)
		}); err != nil {
			return fmt.Errorf("registering schedule %q: %w", cfg.Schedule.Cron, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("schedule registered", "cron", cfg.Schedule.Cron)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down controller")
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("controller shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handleAgent(conn, localCap, cfg.Channel, cfg.Logging.ChannelLogDir, agents, logger)
	}
}

// handleAgent negotiates and builds a channel for one accepted
// connection, registers it in the fleet for the life of the channel,
// and removes it once the channel is torn down. Each agent gets its
// own dedicated channel log file when channelLogDir is set, since a
// controller with many agents attached needs per-agent log separation
// that the shared base logger can't provide.
func handleAgent(conn net.Conn, localCap capability.Capability, chCfg config.ChannelConfig, channelLogDir string, agents *fleet, logger *slog.Logger) {
	result, err := wiremode.Negotiate(conn, localCap, wiremode.Binary, nil)
	if err != nil {
		logger.Warn("handshake with agent failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	transport, err := buildTransport(conn, chCfg)
	if err != nil {
		logger.Warn("building transport for agent failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	id := conn.RemoteAddr().String()

	chLogger, chLogCloser, chLogPath, err := logging.NewChannelLogger(logger, channelLogDir, id)
	if err != nil {
		logger.Warn("building channel logger failed", "remote", id, "error", err)
		conn.Close()
		return
	}
	defer chLogCloser.Close()
	if chLogPath != "" {
		logger.Info("channel log file opened", "remote", id, "path", chLogPath)
	}

	builder := channel.Builder{
		Name:                     id,
		Capability:               localCap,
		PipeWindowSize:           chCfg.PipeWindowSizeRaw,
		UnexportLogSize:          chCfg.UnexportLogSize,
		ArbitraryCallableAllowed: chCfg.ArbitraryCallableAllowed,
		Logger:                   chLogger,
	}
	ch := builder.Build(transport, result.RemoteCapability)
	ch.Start()

	agents.add(id, ch)
	defer agents.remove(id)

	logger.Info("agent connected", "remote", id, "remote_capability", result.RemoteCapability.String())

	ch.Join()
	logger.Info("agent disconnected", "remote", id)
}

// hostStatsCallable is the serialized callable handed to each agent's
// Performer. The demo agent ignores the payload and always invokes its
// exported HostStatsProbe, so a fixed tag is enough to identify the
// call being made in logs.
var hostStatsCallable = []byte("demoexports.HostStatsProbe.Collect")

// pollFleet invokes the host-stats probe callable against every
// connected agent, logging each result. A real embedder would route
// the collected results to storage or a metrics sink; this demo
// exists to exercise the scheduled-fanout path end to end.
func pollFleet(agents *fleet, logger *slog.Logger) {
	snapshot := agents.snapshot()
	if len(snapshot) == 0 {
		logger.Debug("scheduled poll: no agents connected")
		return
	}

	for id, ch := range snapshot {
		go func(id string, ch *channel.Channel) {
			result, err := ch.Call(hostStatsCallable, 0)
			if err != nil {
				logger.Warn("scheduled poll failed", "agent", id, "error", err)
				return
			}
			logger.Info("scheduled poll result", "agent", id, "result", string(result))
		}(id, ch)
	}
}

func buildTransport(conn net.Conn, cfg config.ChannelConfig) (rpcproto.Transport, error) {
	if cfg.Mode == "chunked" {
		return rpcproto.NewChunkedTransport(conn, cfg.FrameSize)
	}
	return rpcproto.NewClassicTransport(conn), nil
}
