// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"runtime"
	"strconv"

	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

// Call sends a serialized callable to the peer and blocks for the
// result.
func (c *Channel) Call(serializedCallable []byte, classLoaderOID int64) ([]byte, error) {
	future, err := c.CallAsync(serializedCallable, classLoaderOID)
	if err != nil {
		return nil, err
	}
	return future.Get()
}

// CallAsync sends a serialized callable to the peer and returns
// immediately with a Future for the eventual result.
func (c *Channel) CallAsync(serializedCallable []byte, classLoaderOID int64) (*Future, error) {
	if c.isOutClosed() {
		return nil, c.closeErr()
	}

	id := c.nextRequestID.Add(1)
	lastIoID := c.lastObservedIoID()
	pc := newPendingCall(id, callSite())

	c.mu.Lock()
	c.pendingCalls[id] = pc
	c.mu.Unlock()

	req := rpcproto.UserRequest{
		ID:                 id,
		LastIoID:           lastIoID,
		SerializedCallable: serializedCallable,
		ClassLoaderOID:     classLoaderOID,
	}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pendingCalls, id)
		c.mu.Unlock()
		pc.fail(err)
		return nil, err
	}

	return &Future{ch: c, pc: pc}, nil
}

// callSite captures a short "file:line" diagnostic for a call's
// originating frame; it is stored on pendingCall and recorded as the
// export table's allocation and release traces.
func callSite() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}
