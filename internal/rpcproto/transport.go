// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rpcproto

import "io"

// Transport frames Command values over a duplex stream. Write and
// Read are not safe for concurrent use by multiple goroutines on the
// same side; the owning channel serializes writes under its own send
// lock and runs reads on a single dedicated goroutine, per spec.
type Transport interface {
	Write(c Command) error
	Read() (Command, error)
	Close() error
	Underlying() io.ReadWriteCloser
}

// NewClassicTransport returns a Transport that frames one command per
// write as a single length-prefixed segment, with no continuation.
// This is the Go-native stand-in for "one object-stream object per
// command": there is no shared object-serialization layer here, so a
// self-delimited frame plays the same role.
func NewClassicTransport(rw io.ReadWriteCloser) Transport {
	return &classicTransport{rw: rw}
}

// NewChunkedTransport returns a Transport that splits each command
// into chunks no larger than frameSize bytes of payload, each
// prefixed by the 2-byte continuation header described in spec.md
// §4.2/§6. frameSize must be between 1 and 32767.
func NewChunkedTransport(rw io.ReadWriteCloser, frameSize int) (Transport, error) {
	if frameSize < 1 || frameSize > maxChunkPayload {
		return nil, errInvalidFrameSize(frameSize)
	}
	return &chunkedTransport{rw: rw, frameSize: frameSize}, nil
}
