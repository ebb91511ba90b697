// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wiremode

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/goremoting/internal/capability"
)

func TestNegotiate_BothPresetAgree(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)

	go func() {
		r, err := Negotiate(a, capability.SupportsChunking, Binary, nil)
		resultCh <- r
		errCh <- err
	}()

	r, err := Negotiate(b, capability.SupportsPipeThrottling, Binary, nil)
	if err != nil {
		t.Fatalf("side B: unexpected error: %v", err)
	}
	if r.Mode != Binary {
		t.Errorf("side B: expected Binary, got %s", r.Mode)
	}
	if !r.RemoteCapability.Has(capability.SupportsChunking) {
		t.Errorf("side B: expected to observe peer's chunking capability")
	}

	aResult := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("side A: unexpected error: %v", err)
	}
	if aResult.Mode != Binary {
		t.Errorf("side A: expected Binary, got %s", aResult.Mode)
	}
}

func TestNegotiate_PresetDisagree(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := Negotiate(a, capability.None, Binary, nil)
		errCh <- err
	}()

	_, err := Negotiate(b, capability.None, Text, nil)
	if err == nil {
		t.Fatal("expected mode mismatch error")
	}

	<-errCh
}

func TestNegotiate_OneSideAdoptsPeerMode(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)

	go func() {
		r, err := Negotiate(a, capability.None, Text, nil)
		resultCh <- r
		errCh <- err
	}()

	r, err := Negotiate(b, capability.None, ModeNegotiate, nil)
	if err != nil {
		t.Fatalf("negotiating side: unexpected error: %v", err)
	}
	if r.Mode != Text {
		t.Errorf("expected negotiating side to adopt Text, got %s", r.Mode)
	}

	aResult := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("preset side: unexpected error: %v", err)
	}
	if aResult.Mode != Text {
		t.Errorf("preset side expected Text echoed back, got %s", aResult.Mode)
	}
}

func TestNegotiate_HeaderBytesTeed(t *testing.T) {
	// Simulate an outer protocol prefixing banner text before the real
	// preambles begin.
	var wire bytes.Buffer
	wire.WriteString("Some-Outer-Banner: v1\r\n\r\n")
	if err := writePreamble(&wire, capability.SupportsChunking, Binary); err != nil {
		t.Fatalf("unexpected error writing preamble: %v", err)
	}

	var tee bytes.Buffer
	scanner := newPreambleScanner(&wire, &tee)

	remoteCap, err := scanner.readCapability()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !remoteCap.Has(capability.SupportsChunking) {
		t.Error("expected chunking capability to survive banner prefix")
	}

	mode, err := scanner.readMode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != Binary {
		t.Errorf("expected Binary, got %s", mode)
	}

	if !bytes.Contains(tee.Bytes(), []byte("Some-Outer-Banner")) {
		t.Errorf("expected banner text teed to header sink, got: %q", tee.String())
	}
}

func TestNegotiate_Timeout(t *testing.T) {
	// A reader that never produces a preamble should eventually error out
	// rather than hang the test suite forever.
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	done := make(chan struct{})
	go func() {
		scanner := newPreambleScanner(r, nil)
		scanner.readCapability()
		close(done)
	}()

	w.Write([]byte("garbage that never matches anything"))
	w.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not return after writer closed")
	}
}
