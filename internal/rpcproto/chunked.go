// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rpcproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxChunkPayload is the largest payload length a single chunk header
// can encode: 15 bits, 0-32767.
const maxChunkPayload = 0x7FFF

// continuationFlag is bit 15 of the chunk header: 1 means more chunks
// follow for the same logical command, 0 means this is the last one.
const continuationFlag = 0x8000

func errInvalidFrameSize(n int) error {
	return fmt.Errorf("rpcproto: invalid chunk frame size %d (want 1..%d)", n, maxChunkPayload)
}

// chunkedTransport splits each command into chunks of at most
// frameSize payload bytes, each prefixed by a 2-byte header: bit 15 is
// the continuation flag, bits 14..0 are the payload length. The
// reader reassembles by concatenating chunks until one with
// continuation=0 arrives, then decodes.
type chunkedTransport struct {
	rw        io.ReadWriteCloser
	frameSize int
}

func (t *chunkedTransport) Write(c Command) error {
	encoded, err := encode(c)
	if err != nil {
		return err
	}

	offset := 0
	for {
		remaining := len(encoded) - offset
		n := remaining
		if n > t.frameSize {
			n = t.frameSize
		}
		more := remaining > n
		if err := t.writeChunk(encoded[offset:offset+n], more); err != nil {
			return err
		}
		offset += n
		if !more {
			return nil
		}
	}
}

func (t *chunkedTransport) writeChunk(payload []byte, more bool) error {
	header := uint16(len(payload))
	if more {
		header |= continuationFlag
	}
	var headerB [2]byte
	binary.BigEndian.PutUint16(headerB[:], header)
	if _, err := t.rw.Write(headerB[:]); err != nil {
		return fmt.Errorf("rpcproto: chunked: writing chunk header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := t.rw.Write(payload); err != nil {
			return fmt.Errorf("rpcproto: chunked: writing chunk payload: %w", err)
		}
	}
	return nil
}

func (t *chunkedTransport) Read() (Command, error) {
	var body []byte
	for {
		var headerB [2]byte
		if _, err := io.ReadFull(t.rw, headerB[:]); err != nil {
			return nil, err
		}
		header := binary.BigEndian.Uint16(headerB[:])
		length := header &^ continuationFlag
		continuation := header&continuationFlag != 0

		if length > 0 {
			chunk := make([]byte, length)
			if _, err := io.ReadFull(t.rw, chunk); err != nil {
				return nil, fmt.Errorf("rpcproto: chunked: reading chunk payload: %w", err)
			}
			body = append(body, chunk...)
		}

		if !continuation {
			return decode(body)
		}
	}
}

func (t *chunkedTransport) Close() error {
	return t.rw.Close()
}

func (t *chunkedTransport) Underlying() io.ReadWriteCloser {
	return t.rw
}
