// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

// readLoop is the channel's single reader goroutine: the only
// producer of inbound commands. It dispatches strictly in receive
// order, so commands are handled in the exact order the peer sent
// them.
func (c *Channel) readLoop() {
	defer c.wg.Done()
	for {
		cmd, err := c.transport.Read()
		if err != nil {
			c.inClosed.Store(true)
			c.Terminate(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		c.dispatch(cmd)
	}
}

func (c *Channel) dispatch(cmd rpcproto.Command) {
	switch v := cmd.(type) {
	case rpcproto.UserRequest:
		c.handleUserRequest(v)
	case rpcproto.UserResponse:
		c.handleUserResponse(v)
	case rpcproto.Cancel:
		c.handleCancel(v)
	case rpcproto.PipeChunk:
		c.handlePipeChunk(v)
	case rpcproto.PipeAck:
		c.handlePipeAck(v)
	case rpcproto.PipeEOF:
		c.handlePipeEOF(v)
	case rpcproto.PipeFlush:
		c.handlePipeFlush(v)
	case rpcproto.PipeUnexport:
		c.handlePipeUnexport(v)
	case rpcproto.PipeNotifyDeadWriter:
		c.handlePipeNotifyDeadWriter(v)
	default:
		c.logger.Error("dispatch: unhandled command type", "type", fmt.Sprintf("%T", cmd))
	}
}

func (c *Channel) handleUserRequest(req rpcproto.UserRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.executingCalls[req.ID] = &executingCall{id: req.ID, cancel: cancel}
	c.mu.Unlock()

	c.executor.Submit(func() {
		defer func() {
			c.mu.Lock()
			delete(c.executingCalls, req.ID)
			c.mu.Unlock()
			cancel()
		}()

		// Wait for every preceding pipe side-effect the sender promised
		// (ioId <= req.LastIoID) to have actually run locally before
		// invoking the callable.
		c.pipeWriter.Handle(req.LastIoID).Get()

		if refuseErr := c.checkSecurity(req.SerializedCallable); refuseErr != nil {
			c.respond(req.ID, []byte(refuseErr.Error()), true)
			return
		}

		result, isExc := c.performer(ctx, req.SerializedCallable, req.ClassLoaderOID)
		c.respond(req.ID, result, isExc)
	})
}

func (c *Channel) checkSecurity(serializedCallable []byte) error {
	if c.arbitraryOK {
		return nil
	}
	if c.roleChecker == nil {
		return fmt.Errorf("%w: arbitrary callables disabled and no role checker configured", ErrSecurityRefused)
	}
	if err := c.roleChecker(serializedCallable); err != nil {
		return fmt.Errorf("%w: %v", ErrSecurityRefused, err)
	}
	return nil
}

func (c *Channel) respond(id int64, result []byte, isExc bool) {
	respIoID := c.lastObservedIoID()
	err := c.send(rpcproto.UserResponse{ID: id, ResponseIoID: respIoID, SerializedResult: result, IsException: isExc})
	if err != nil {
		c.logger.Warn("failed to send response", "id", id, "error", err)
	}
}

func (c *Channel) handleUserResponse(v rpcproto.UserResponse) {
	c.mu.Lock()
	pc, ok := c.pendingCalls[v.ID]
	if ok {
		delete(c.pendingCalls, v.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown or already-resolved request", "id", v.ID)
		return
	}
	pc.complete(v.SerializedResult, v.ResponseIoID, v.IsException)
}

func (c *Channel) handleCancel(v rpcproto.Cancel) {
	c.mu.Lock()
	ec, ok := c.executingCalls[v.ID]
	c.mu.Unlock()
	if ok && ec.cancel != nil {
		ec.cancel()
	}
}

func (c *Channel) handlePipeChunk(v rpcproto.PipeChunk) {
	c.pipeWriter.Submit(v.IoID, func() {
		obj, err := c.exportTable.Get(v.OID)
		if err != nil {
			c.logger.Warn("pipe chunk for unknown oid", "oid", v.OID, "error", err)
			return
		}
		w, ok := obj.(io.Writer)
		if !ok {
			c.logger.Error("exported object for pipe chunk is not a writer", "oid", v.OID)
			return
		}
		n, writeErr := w.Write(v.Payload)
		if writeErr != nil {
			c.sendDeadWriter(v.OID, writeErr)
			return
		}
		if c.remoteCapability.Has(capability.SupportsPipeThrottling) {
			if err := c.send(rpcproto.PipeAck{OID: v.OID, Size: int64(n)}); err != nil {
				c.logger.Warn("failed to send pipe ack", "oid", v.OID, "error", err)
			}
		}
	})
}

func (c *Channel) sendDeadWriter(oid int64, cause error) {
	if err := c.send(rpcproto.PipeNotifyDeadWriter{OID: oid, Cause: cause.Error()}); err != nil {
		c.logger.Warn("failed to send dead-writer notification", "oid", oid, "error", err)
	}
}

func (c *Channel) handlePipeAck(v rpcproto.PipeAck) {
	c.mu.Lock()
	w, ok := c.pipeWindows[v.OID]
	c.mu.Unlock()
	if ok {
		w.Increase(v.Size)
	}
}

func (c *Channel) handlePipeEOF(v rpcproto.PipeEOF) {
	c.pipeWriter.Submit(v.IoID, func() {
		if obj, err := c.exportTable.Get(v.OID); err == nil {
			if closer, ok := obj.(io.Closer); ok {
				closer.Close()
			}
		}
		c.exportTable.Unexport(v.OID, "pipe-eof")
	})
}

func (c *Channel) handlePipeFlush(v rpcproto.PipeFlush) {
	c.pipeWriter.Submit(v.IoID, func() {
		obj, err := c.exportTable.Get(v.OID)
		if err != nil {
			return
		}
		if flusher, ok := obj.(interface{ Flush() error }); ok {
			flusher.Flush()
		}
	})
}

func (c *Channel) handlePipeUnexport(v rpcproto.PipeUnexport) {
	c.pipeWriter.Submit(v.IoID, func() {
		c.exportTable.Unexport(v.OID, "pipe-unexport")
	})
}

func (c *Channel) handlePipeNotifyDeadWriter(v rpcproto.PipeNotifyDeadWriter) {
	c.mu.Lock()
	w, ok := c.pipeWindows[v.OID]
	c.mu.Unlock()
	if ok {
		w.Dead(errors.New(v.Cause))
	}
}
