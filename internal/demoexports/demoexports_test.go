// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package demoexports

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/goremoting/internal/capability"
	"github.com/nishisan-dev/goremoting/internal/channel"
	"github.com/nishisan-dev/goremoting/internal/rpcproto"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func TestHostStatsProbe_CollectReturnsValidJSON(t *testing.T) {
	probe := NewHostStatsProbe("")
	encoded, err := probe.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var stats HostStats
	if err := json.Unmarshal(encoded, &stats); err != nil {
		t.Fatalf("decoding collected stats: %v", err)
	}
	if stats.CPUPercent < 0 || stats.MemoryPercent < 0 {
		t.Errorf("unexpected negative stat: %+v", stats)
	}
}

func TestCompressingSink_GzipRoundTrip(t *testing.T) {
	dest := &bytes.Buffer{}
	sink, err := NewCompressingSink(nopWriteCloser{dest}, CompressionGzip)
	if err != nil {
		t.Fatalf("NewCompressingSink: %v", err)
	}

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility ")
	if _, err := sink.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	gr, err := pgzip.NewReader(bytes.NewReader(dest.Bytes()))
	if err != nil {
		t.Fatalf("pgzip.NewReader: %v", err)
	}
	defer gr.Close()
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("reading decompressed stream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("decompressed = %q, want %q", got, payload)
	}
}

func TestCompressingSink_ZstdRoundTrip(t *testing.T) {
	dest := &bytes.Buffer{}
	sink, err := NewCompressingSink(nopWriteCloser{dest}, CompressionZstd)
	if err != nil {
		t.Fatalf("NewCompressingSink: %v", err)
	}

	payload := bytes.Repeat([]byte("abcdefgh"), 256)
	if _, err := sink.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	zr, err := zstd.NewReader(bytes.NewReader(dest.Bytes()))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading decompressed stream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("decompressed mismatch, got %d bytes want %d", len(got), len(payload))
	}
}

// syncCloseBuffer is an exported-side pipe sink: a buffer a remote
// writer streams into, tracking when PipeEOF closed it.
type syncCloseBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
}

func newSyncCloseBuffer() *syncCloseBuffer {
	return &syncCloseBuffer{closed: make(chan struct{})}
}

func (s *syncCloseBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncCloseBuffer) Close() error {
	close(s.closed)
	return nil
}

func (s *syncCloseBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// linkedChannelPair builds two Channels connected over net.Pipe, both
// started, so a test can export a sink on one side and open a remote
// writer to it from the other, exactly as a real agent/controller pair
// would.
func linkedChannelPair(t *testing.T) (receiver, sender *channel.Channel) {
	t.Helper()
	connA, connB := net.Pipe()

	receiverBuilder := channel.Builder{Name: "receiver"}
	senderBuilder := channel.Builder{Name: "sender"}

	receiver = receiverBuilder.Build(rpcproto.NewClassicTransport(connA), capability.None)
	sender = senderBuilder.Build(rpcproto.NewClassicTransport(connB), capability.None)
	receiver.Start()
	sender.Start()

	t.Cleanup(func() {
		receiver.Close()
		sender.Close()
	})
	return receiver, sender
}

func TestRateLimitedRemoteWriter_PassesThroughWithinBudget(t *testing.T) {
	receiver, sender := linkedChannelPair(t)

	sink := newSyncCloseBuffer()
	oid, err := receiver.Export(sink, nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := NewRateLimitedRemoteWriter(ctx, sender, oid, 1024*1024)
	payload := []byte("hello, rate limited world")
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never observed EOF")
	}
	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatalf("sink = %q, want %q", sink.Bytes(), payload)
	}
}

func TestRateLimitedRemoteWriter_ZeroRateBypasses(t *testing.T) {
	receiver, sender := linkedChannelPair(t)

	sink := newSyncCloseBuffer()
	oid, err := receiver.Export(sink, nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	w := NewRateLimitedRemoteWriter(context.Background(), sender, oid, 0)
	if _, ok := w.(*RateLimitedRemoteWriter); ok {
		t.Fatal("expected bypass writer for bytesPerSec <= 0, got a RateLimitedRemoteWriter")
	}
}
