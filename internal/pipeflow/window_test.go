// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeflow

import (
	"errors"
	"testing"
	"time"
)

func TestPipeWindow_GetDecreaseIncrease(t *testing.T) {
	w := NewPipeWindow(1000)

	got, err := w.Get(100, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Fatalf("expected full window available, got %d", got)
	}
	w.Decrease(400)
	if w.Available() != 600 {
		t.Fatalf("expected 600 available after decrease, got %d", w.Available())
	}

	w.Increase(200)
	if w.Available() != 800 {
		t.Fatalf("expected 800 available after increase, got %d", w.Available())
	}
}

func TestPipeWindow_IncreaseNeverExceedsMax(t *testing.T) {
	w := NewPipeWindow(1000)
	w.Increase(500)
	if w.Available() != 1000 {
		t.Fatalf("expected available clamped to max 1000, got %d", w.Available())
	}
}

func TestPipeWindow_GetBlocksUntilIncrease(t *testing.T) {
	w := NewPipeWindow(100)
	w.Decrease(100) // drain it fully

	done := make(chan int64, 1)
	go func() {
		got, err := w.Get(50, 100)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- got
	}()

	select {
	case <-done:
		t.Fatal("Get returned before window had enough available")
	case <-time.After(50 * time.Millisecond):
	}

	w.Increase(60)

	select {
	case got := <-done:
		if got < 50 {
			t.Errorf("expected at least 50 available, got %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock after Increase")
	}
}

func TestPipeWindow_Dead_PoisonsBlockedAndFutureGets(t *testing.T) {
	w := NewPipeWindow(100)
	w.Decrease(100)

	cause := errors.New("sink closed")
	errCh := make(chan error, 1)
	go func() {
		_, err := w.Get(10, 100)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	w.Dead(cause)

	select {
	case err := <-errCh:
		if !errors.Is(err, cause) {
			t.Errorf("expected poisoned Get to return cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Get did not wake on Dead")
	}

	if _, err := w.Get(1, 100); !errors.Is(err, cause) {
		t.Errorf("expected subsequent Get to also fail with cause, got %v", err)
	}
}

func TestPipeWindow_Write_NeverExceedsMaxOutstanding(t *testing.T) {
	const max = 1000
	w := NewPipeWindow(max)

	payload := make([]byte, 10_000)
	for i := range payload {
		payload[i] = byte(i)
	}

	var reassembled []byte
	var outstanding int64
	var peakOutstanding int64

	err := w.Write(payload, func(chunk []byte) error {
		outstanding += int64(len(chunk))
		if outstanding > peakOutstanding {
			peakOutstanding = outstanding
		}
		reassembled = append(reassembled, chunk...)
		// Simulate the receiver immediately acking (synchronous test, no
		// network delay to model).
		outstanding -= int64(len(chunk))
		w.Increase(int64(len(chunk)))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peakOutstanding > max {
		t.Errorf("window invariant violated: peak outstanding %d > max %d", peakOutstanding, max)
	}
	if len(reassembled) != len(payload) {
		t.Fatalf("expected %d bytes reassembled, got %d", len(payload), len(reassembled))
	}
	for i := range payload {
		if reassembled[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, reassembled[i], payload[i])
		}
	}
}

func TestPipeWindow_Write_ChunksCapAtHalfMax(t *testing.T) {
	const max = 200
	w := NewPipeWindow(max)

	payload := make([]byte, 1000)
	err := w.Write(payload, func(chunk []byte) error {
		if int64(len(chunk)) > max/2 {
			t.Errorf("chunk of %d bytes exceeds max/2 = %d", len(chunk), max/2)
		}
		w.Increase(int64(len(chunk)))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
