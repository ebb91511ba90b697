// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package demoexports

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// CompressionMode selects the codec a CompressingSink applies to
// incoming pipe bytes before writing them to the underlying sink.
type CompressionMode byte

const (
	// CompressionGzip runs incoming bytes through a parallel gzip
	// writer (pgzip); the default.
	CompressionGzip CompressionMode = iota
	// CompressionZstd runs incoming bytes through a zstd writer.
	CompressionZstd
)

// CompressingSink is an exported io.WriteCloser that transparently
// compresses every pipe chunk written to it before forwarding the
// compressed bytes to dest. It is the "slow real writer" side of a
// flow-controlled pipe: compression throughput, not network
// bandwidth, is what should make the sender's window matter.
type CompressingSink struct {
	dest  io.WriteCloser
	gzipW *pgzip.Writer
	zstdW *zstd.Encoder
	mode  CompressionMode
}

// NewCompressingSink wraps dest with the given compression mode. dest
// is closed when the returned sink is closed, after the codec's own
// trailer is flushed.
func NewCompressingSink(dest io.WriteCloser, mode CompressionMode) (*CompressingSink, error) {
	s := &CompressingSink{dest: dest, mode: mode}
	switch mode {
	case CompressionZstd:
		enc, err := zstd.NewWriter(dest)
		if err != nil {
			return nil, fmt.Errorf("demoexports: creating zstd encoder: %w", err)
		}
		s.zstdW = enc
	default:
		s.gzipW = pgzip.NewWriter(dest)
	}
	return s, nil
}

func (s *CompressingSink) Write(p []byte) (int, error) {
	if s.zstdW != nil {
		return s.zstdW.Write(p)
	}
	return s.gzipW.Write(p)
}

// Flush flushes any buffered, not-yet-emitted compressed bytes without
// closing the stream, matching the PipeFlush command's semantics.
func (s *CompressingSink) Flush() error {
	if s.zstdW != nil {
		return s.zstdW.Flush()
	}
	return s.gzipW.Flush()
}

func (s *CompressingSink) Close() error {
	var codecErr error
	if s.zstdW != nil {
		codecErr = s.zstdW.Close()
	} else {
		codecErr = s.gzipW.Close()
	}
	if destErr := s.dest.Close(); destErr != nil && codecErr == nil {
		return destErr
	}
	return codecErr
}
