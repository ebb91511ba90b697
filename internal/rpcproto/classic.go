// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rpcproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// classicTransport frames each command as [4-byte big-endian length]
// [encoded command]. Reads block on the next frame; writes flush per
// command (there is no internal buffering to hold writes back).
type classicTransport struct {
	rw io.ReadWriteCloser
}

func (t *classicTransport) Write(c Command) error {
	encoded, err := encode(c)
	if err != nil {
		return err
	}
	var lenB [4]byte
	binary.BigEndian.PutUint32(lenB[:], uint32(len(encoded)))
	if _, err := t.rw.Write(lenB[:]); err != nil {
		return fmt.Errorf("rpcproto: classic: writing frame length: %w", err)
	}
	if _, err := t.rw.Write(encoded); err != nil {
		return fmt.Errorf("rpcproto: classic: writing frame body: %w", err)
	}
	return nil
}

func (t *classicTransport) Read() (Command, error) {
	var lenB [4]byte
	if _, err := io.ReadFull(t.rw, lenB[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenB[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(t.rw, body); err != nil {
		return nil, fmt.Errorf("rpcproto: classic: reading frame body: %w", err)
	}
	return decode(body)
}

func (t *classicTransport) Close() error {
	return t.rw.Close()
}

func (t *classicTransport) Underlying() io.ReadWriteCloser {
	return t.rw
}
