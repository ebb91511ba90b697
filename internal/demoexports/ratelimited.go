// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package demoexports

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/goremoting/internal/channel"
)

// maxBurstSize bounds a single rate-limiter reservation so a large pipe
// chunk doesn't request an enormous burst all at once.
const maxBurstSize = 256 * 1024

// RateLimitedRemoteWriter wraps a Channel's flow-controlled remote pipe
// writer (channel.Channel.OpenRemoteWriter) with an additional
// token-bucket cap. The channel's own PipeWindow already bounds how
// many unacked bytes can be in flight to oid; this adds a second,
// tighter bound on top of that — how fast the caller is allowed to feed
// bytes into the window in the first place — so one exported pipe can
// be throttled without changing the channel's window size for every
// pipe on the connection.
type RateLimitedRemoteWriter struct {
	dest    io.WriteCloser
	limiter *rate.Limiter
	ctx     context.Context
}

// NewRateLimitedRemoteWriter opens a remote writer to oid on ch (as
// channel.Channel.OpenRemoteWriter does) and caps the rate at which
// bytes are handed to it. If bytesPerSec <= 0, the unwrapped remote
// writer is returned.
func NewRateLimitedRemoteWriter(ctx context.Context, ch *channel.Channel, oid int64, bytesPerSec int64) io.WriteCloser {
	dest := ch.OpenRemoteWriter(oid)
	if bytesPerSec <= 0 {
		return dest
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}

	return &RateLimitedRemoteWriter{
		dest:    dest,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (rw *RateLimitedRemoteWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > rw.limiter.Burst() {
			chunk = rw.limiter.Burst()
		}

		if err := rw.limiter.WaitN(rw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := rw.dest.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}

// Close closes the underlying remote writer, which sends the pipe's
// PipeEOF to the peer.
func (rw *RateLimitedRemoteWriter) Close() error {
	return rw.dest.Close()
}
