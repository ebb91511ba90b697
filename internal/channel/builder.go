// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"context"
	"io"
	"log/slog"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/exporttable"
	"github.com/nishisan-dev/goremoting/internal/pipeflow"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

// Performer invokes a deserialized callable and returns its
// already-serialized result. Object serialization itself is outside
// this package's scope; the embedder owns it entirely. ctx is
// cancelled if the caller sends Cancel{id} for this request.
type Performer func(ctx context.Context, serializedCallable []byte, classLoaderOID int64) (result []byte, isException bool)

// RoleChecker is consulted before running an inbound callable on a
// channel built with ArbitraryCallableAllowed false. It returns a
// non-nil error to refuse the callable; the channel wraps that error
// in ErrSecurityRefused.
type RoleChecker func(serializedCallable []byte) error

// Builder configures and constructs a Channel. Zero value is usable;
// defaults match spec.md §6's documented knobs.
type Builder struct {
	Name       string
	Executor   Executor
	Capability capability.Capability

	// PipeWindowSize is the per-pipe send-window max, in bytes.
	// Default 131072 (<core>.pipeWindowSize).
	PipeWindowSize int64

	// UnexportLogSize bounds the export table's diagnostic log.
	// Default 1024 (<core>.unexportLogSize).
	UnexportLogSize int

	// HeaderStream is not read by Build, which does not perform the
	// wiremode handshake; pre-handshake banner bytes reach a sink only
	// when the caller passes one to wiremode.Negotiate before Build.
	HeaderStream io.Writer

	// ArbitraryCallableAllowed, when true, runs every inbound callable
	// without consulting RoleChecker. When false, each callable is
	// passed to RoleChecker and refused if RoleChecker is nil or
	// returns an error.
	ArbitraryCallableAllowed bool

	Performer   Performer
	RoleChecker RoleChecker

	Logger *slog.Logger
}

// Build wires a Channel around transport and remoteCapability (as
// produced by wiremode.Negotiate), ready to Start.
func (b Builder) Build(transport rpcproto.Transport, remoteCapability capability.Capability) *Channel {
	if b.Executor == nil {
		b.Executor = GoExecutor{}
	}
	if b.PipeWindowSize <= 0 {
		b.PipeWindowSize = pipeflow.DefaultWindowSize
	}
	if b.UnexportLogSize <= 0 {
		b.UnexportLogSize = exporttable.DefaultUnexportLogSize
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.Performer == nil {
		b.Performer = func(_ context.Context, _ []byte, _ int64) ([]byte, bool) { return nil, false }
	}

	ch := &Channel{
		name:             b.Name,
		executor:         b.Executor,
		localCapability:  b.Capability,
		remoteCapability: remoteCapability,
		transport:        transport,
		exportTable:      exporttable.New(b.UnexportLogSize),
		pipeWriter:       pipeflow.NewWriter(0),
		pipeWindowSize:   b.PipeWindowSize,
		performer:        b.Performer,
		roleChecker:      b.RoleChecker,
		arbitraryOK:      b.ArbitraryCallableAllowed,
		logger:           b.Logger.With("component", "channel", "channel", b.Name),
		pendingCalls:     make(map[int64]*pendingCall),
		executingCalls:   make(map[int64]*executingCall),
		pipeWindows:      make(map[int64]*pipeflow.PipeWindow),
		stopCh:           make(chan struct{}),
	}
	ch.state.Store(stateOpen)
	return ch
}
