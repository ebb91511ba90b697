// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rpcproto frames Command values over a duplex stream: one
// object per write in classic mode, or length-prefixed continuation
// chunks in chunked mode. The channel package owns dispatch; this
// package only knows how to get a Command's bytes on and off the wire.
package rpcproto

import "fmt"

// Kind tags a Command's wire type. It is the first byte of every
// encoded command.
type Kind byte

const (
	KindUserRequest Kind = iota + 1
	KindUserResponse
	KindCancel
	KindPipeChunk
	KindPipeAck
	KindPipeEOF
	KindPipeFlush
	KindPipeUnexport
	KindPipeNotifyDeadWriter
)

func (k Kind) String() string {
	switch k {
	case KindUserRequest:
		return "user-request"
	case KindUserResponse:
		return "user-response"
	case KindCancel:
		return "cancel"
	case KindPipeChunk:
		return "pipe-chunk"
	case KindPipeAck:
		return "pipe-ack"
	case KindPipeEOF:
		return "pipe-eof"
	case KindPipeFlush:
		return "pipe-flush"
	case KindPipeUnexport:
		return "pipe-unexport"
	case KindPipeNotifyDeadWriter:
		return "pipe-notify-dead-writer"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Command is the sum type of messages exchanged over a channel. Each
// variant below implements it; Kind is used both for wire framing and
// the channel dispatcher's type switch.
type Command interface {
	Kind() Kind
}

// UserRequest carries an opaque serialized callable from caller to
// callee. LastIoID lets the receiver wait for every preceding pipe
// side-effect (ioId <= LastIoID) before invoking the callable.
type UserRequest struct {
	ID                 int64
	LastIoID           int64
	SerializedCallable []byte
	ClassLoaderOID     int64
}

func (UserRequest) Kind() Kind { return KindUserRequest }

// UserResponse carries the result of a UserRequest back to the caller.
// ResponseIoID is the last ioId the callee observed after running the
// callable, so the caller can symmetrically wait on its own pipeWriter.
type UserResponse struct {
	ID               int64
	ResponseIoID     int64
	SerializedResult []byte
	IsException      bool
}

func (UserResponse) Kind() Kind { return KindUserResponse }

// Cancel asks the peer to interrupt the worker executing request ID.
type Cancel struct {
	ID int64
}

func (Cancel) Kind() Kind { return KindCancel }

// PipeChunk is a segment of bytes written to the remote pipe
// identified by OID, sequenced under IoID.
type PipeChunk struct {
	IoID    int64
	OID     int64
	Payload []byte
}

func (PipeChunk) Kind() Kind { return KindPipeChunk }

// PipeAck acknowledges Size bytes of a PipeChunk, returning that much
// window to the sender.
type PipeAck struct {
	OID  int64
	Size int64
}

func (PipeAck) Kind() Kind { return KindPipeAck }

// PipeEOF closes the remote pipe writer for OID after every preceding
// chunk with ioId <= IoID has run.
type PipeEOF struct {
	IoID int64
	OID  int64
}

func (PipeEOF) Kind() Kind { return KindPipeEOF }

// PipeFlush flushes the remote pipe writer for OID without closing it.
type PipeFlush struct {
	IoID int64
	OID  int64
}

func (PipeFlush) Kind() Kind { return KindPipeFlush }

// PipeUnexport releases the remote pipe's export-table entry without
// closing the underlying writer.
type PipeUnexport struct {
	IoID int64
	OID  int64
}

func (PipeUnexport) Kind() Kind { return KindPipeUnexport }

// PipeNotifyDeadWriter tells the sender that the real writer behind
// OID errored; Cause is carried as a string since it crosses the wire.
type PipeNotifyDeadWriter struct {
	OID   int64
	Cause string
}

func (PipeNotifyDeadWriter) Kind() Kind { return KindPipeNotifyDeadWriter }
