// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import "errors"

// Sentinel error kinds surfaced by the channel API. Each is meant to
// be matched with errors.Is; wrapped context (the failed OID, the
// close cause, ...) is attached with fmt.Errorf("...: %w", ...) at the
// call site, following this project's wrapping idiom throughout.
var (
	// ErrChannelClosed is returned by any operation attempted after the
	// channel has closed locally or remotely.
	ErrChannelClosed = errors.New("channel: closed")

	// ErrRequestAborted is returned to a caller whose call() was still
	// awaiting a response when the channel closed or terminated.
	ErrRequestAborted = errors.New("channel: request aborted")

	// ErrInvalidObjectID is returned when a command references an OID
	// not present in the export table.
	ErrInvalidObjectID = errors.New("channel: invalid object id")

	// ErrSecurityRefused is returned when a callable is rejected by the
	// role-checker (e.g. arbitrary callables disabled on this channel).
	ErrSecurityRefused = errors.New("channel: security refused")

	// ErrProtocol marks a framing or handshake violation: unknown
	// preamble, oversize chunk, unknown command tag. Fatal to the
	// channel.
	ErrProtocol = errors.New("channel: protocol violation")

	// ErrTransport marks a raw I/O failure on the underlying stream.
	// Fatal to the channel; always triggers Terminate.
	ErrTransport = errors.New("channel: transport error")

	// ErrCancelled is returned by a future's Get when it was cancelled
	// via Future.Cancel before a response arrived.
	ErrCancelled = errors.New("channel: call cancelled")
)
