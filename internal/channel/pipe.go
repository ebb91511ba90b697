// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"io"

	"github.com/nishisan-dev/goremoting/internal/pipeflow"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

// Export publishes object under a fresh (or reused, if already
// exported) OID so the peer can reference it in a callable or target
// it with pipe commands.
func (c *Channel) Export(object any, interfaces []string) (int64, error) {
	return c.exportTable.Export(object, interfaces, callSite())
}

// Unexport releases one reference to oid, per exporttable.Table's
// reference-counting rules.
func (c *Channel) Unexport(oid int64) error {
	return c.exportTable.Unexport(oid, callSite())
}

// Pin biases oid's reference count so ordinary Unexport calls can't
// drop it to zero, per exporttable.Table.Pin.
func (c *Channel) Pin(oid int64) error {
	return c.exportTable.Pin(oid)
}

// OpenRemoteWriter returns a flow-controlled writer that streams bytes
// to the object identified by oid on the peer, applying the
// sliding-window backpressure described in SPEC_FULL.md §4.6. oid must
// already be exported by the peer (typically learned as part of a
// prior Call's result).
func (c *Channel) OpenRemoteWriter(oid int64) io.WriteCloser {
	c.mu.Lock()
	w, ok := c.pipeWindows[oid]
	if !ok {
		w = pipeflow.NewPipeWindow(c.pipeWindowSize)
		c.pipeWindows[oid] = w
	}
	c.mu.Unlock()

	return &remoteWriter{ch: c, oid: oid, window: w}
}

type remoteWriter struct {
	ch     *Channel
	oid    int64
	window *pipeflow.PipeWindow
}

func (rw *remoteWriter) Write(p []byte) (int, error) {
	err := rw.window.Write(p, func(chunk []byte) error {
		payload := make([]byte, len(chunk))
		copy(payload, chunk)
		return rw.ch.send(rpcproto.PipeChunk{
			IoID:    rw.ch.newIoID(),
			OID:     rw.oid,
			Payload: payload,
		})
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush asks the peer to flush any buffering in front of the
// underlying writer, without closing it.
func (rw *remoteWriter) Flush() error {
	return rw.ch.send(rpcproto.PipeFlush{IoID: rw.ch.newIoID(), OID: rw.oid})
}

func (rw *remoteWriter) Close() error {
	return rw.ch.send(rpcproto.PipeEOF{IoID: rw.ch.newIoID(), OID: rw.oid})
}
