// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package channel owns the bidirectional remoting connection: the
// command transport, the export table, per-pipe flow control, the
// ioId sequencer, and request/response correlation. It is the
// embedder-facing surface of this module.
package channel

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/exporttable"
	"github.com/nishisan-dev/goremoting/internal/pipeflow"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

// Channel close-state constants. InClosed is tracked separately as a
// boolean since it can be raised independently of the Open/OutClosed/
// FullyClosed progression (the reader observes EOF asynchronously).
const (
	stateOpen       = "open"
	stateOutClosed  = "out-closed"
	stateFullClosed = "full-closed"
)

// Channel is the top-level connection endpoint: it dispatches inbound
// commands, tracks pending/executing calls, and owns the export
// table, pipe windows, and ioId sequencer for one peer connection.
type Channel struct {
	name             string
	executor         Executor
	localCapability  capability.Capability
	remoteCapability capability.Capability

	transport   rpcproto.Transport
	sendMu      sync.Mutex // channel send-lock; serializes outbound writes
	exportTable *exporttable.Table

	pipeWriter     *pipeflow.Writer
	pipeWindowSize int64

	performer   Performer
	roleChecker RoleChecker
	arbitraryOK bool

	logger *slog.Logger

	mu             sync.Mutex
	pendingCalls   map[int64]*pendingCall
	executingCalls map[int64]*executingCall
	pipeWindows    map[int64]*pipeflow.PipeWindow

	nextRequestID atomic.Int64
	lastIoID      atomic.Int64

	state      atomic.Value // string: stateOpen / stateOutClosed / stateFullClosed
	inClosed   atomic.Bool
	closeCause atomic.Value // error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Name returns the channel's diagnostic name.
func (c *Channel) Name() string { return c.name }

// RemoteCapability returns the capability negotiated with the peer at
// handshake time.
func (c *Channel) RemoteCapability() capability.Capability { return c.remoteCapability }

// Start launches the reader goroutine; the channel is usable for
// Call/CallAsync/Export immediately, without waiting for Start.
func (c *Channel) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

// newIoID allocates the next monotonic ioId for an outbound
// side-effecting command.
func (c *Channel) newIoID() int64 {
	return c.lastIoID.Add(1)
}

// lastObservedIoID returns the last ioId this channel has allocated,
// for stamping into an outbound UserRequest's LastIoID field.
func (c *Channel) lastObservedIoID() int64 {
	return c.lastIoID.Load()
}

func (c *Channel) isOutClosed() bool {
	s, _ := c.state.Load().(string)
	return s == stateOutClosed || s == stateFullClosed
}

func (c *Channel) closeErr() error {
	if cause, ok := c.closeCause.Load().(error); ok && cause != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, cause)
	}
	return ErrChannelClosed
}

// send writes cmd to the transport under the channel send-lock, so the
// peer observes outbound commands in the order they were sent. No other
// lock is held while sendMu is taken, and Terminate does not take
// sendMu at all.
func (c *Channel) send(cmd rpcproto.Command) error {
	if c.isOutClosed() {
		return c.closeErr()
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	// Re-check under the lock: Close() may have flipped state while we
	// were waiting for it.
	if c.isOutClosed() {
		return c.closeErr()
	}
	if err := c.transport.Write(cmd); err != nil {
		c.Terminate(fmt.Errorf("%w: %v", ErrTransport, err))
		return err
	}
	return nil
}

func (c *Channel) sendCancel(id int64) error {
	return c.send(rpcproto.Cancel{ID: id})
}

// Close stops accepting new sends, closes the underlying transport (so
// the peer's reader observes EOF and raises InClosed on its own side),
// marks the channel FullyClosed, fails every pending call with
// ErrRequestAborted, and waits for the local reader goroutine to exit.
// There is no close-notify command, and Close does not wait for the
// peer to close its side.
func (c *Channel) Close() error {
	c.state.Store(stateOutClosed)

	err := c.transport.Close()

	c.state.Store(stateFullClosed)
	c.pipeWriter.Close()
	c.drainPendingWithError(ErrRequestAborted)

	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return err
}

// Terminate is the synchronous abort path: it marks the channel
// closed, fails every pending caller with ErrRequestAborted wrapping
// cause, cancels every executing callee-side worker, and aborts the
// export table so blocked pipe readers on the peer wake up.
func (c *Channel) Terminate(cause error) {
	prev := c.state.Swap(stateFullClosed)
	if prev == stateFullClosed {
		return
	}
	c.closeCause.Store(cause)
	c.inClosed.Store(true)

	c.logger.Warn("channel terminated", "cause", cause)

	c.drainPendingWithError(fmt.Errorf("%w: %v", ErrRequestAborted, cause))
	c.cancelAllExecuting()
	c.exportTable.Abort(cause)
	c.pipeWriter.Close()

	c.transport.Close()

	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Channel) drainPendingWithError(err error) {
	c.mu.Lock()
	pending := c.pendingCalls
	c.pendingCalls = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.fail(err)
	}
}

func (c *Channel) cancelAllExecuting() {
	c.mu.Lock()
	executing := c.executingCalls
	c.executingCalls = make(map[int64]*executingCall)
	c.mu.Unlock()

	for _, ec := range executing {
		if ec.cancel != nil {
			ec.cancel()
		}
	}
}

// Join blocks until the reader goroutine has exited, i.e. the channel
// is fully torn down (either via Close or Terminate, or the peer's own
// disconnect).
func (c *Channel) Join() {
	c.wg.Wait()
}
