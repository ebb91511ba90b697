// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// livenessRecheck is how often a blocked call() wakes up to re-check
// channel liveness while waiting for a response, per spec.md §5.
const livenessRecheck = 30 * time.Second

// pendingCall is the caller-side bookkeeping for one outstanding
// call(). It lives in Channel.pendingCalls from send() until either a
// matching UserResponse arrives or the channel closes. doneCh is closed
// exactly once, which lets getUntil select on it alongside a timer
// instead of looping a sync.Cond.Wait against a deadline it can never
// itself interrupt.
type pendingCall struct {
	id int64

	mu       sync.Mutex
	doneCh   chan struct{}
	done     bool
	result   []byte
	respIoID int64
	isExc    bool
	err      error

	callSite string // diagnostic call-site captured at call() time
}

func newPendingCall(id int64, callSite string) *pendingCall {
	return &pendingCall{id: id, callSite: callSite, doneCh: make(chan struct{})}
}

// complete is invoked by the dispatcher when a UserResponse for this
// call's id arrives.
func (pc *pendingCall) complete(result []byte, respIoID int64, isExc bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.done {
		return
	}
	pc.done = true
	pc.result = result
	pc.respIoID = respIoID
	pc.isExc = isExc
	close(pc.doneCh)
}

// fail is invoked when the call can never complete (abort, cancel).
func (pc *pendingCall) fail(err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.done {
		return
	}
	pc.done = true
	pc.err = err
	close(pc.doneCh)
}

// Future is returned by Channel.CallAsync. Get blocks for the result;
// Cancel requests the callee interrupt its in-flight worker.
type Future struct {
	ch *Channel
	pc *pendingCall
}

// Get blocks until the call completes, the channel closes, or the
// future is cancelled, then returns the callable's result or its
// carried error.
func (f *Future) Get() ([]byte, error) {
	return f.getUntil(nil)
}

// GetTimeout is Get with a deadline; it returns context.DeadlineExceeded
// if the timeout elapses first.
func (f *Future) GetTimeout(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	return f.getUntil(&deadline)
}

func (f *Future) getUntil(deadline *time.Time) ([]byte, error) {
	pc := f.pc

	if deadline == nil {
		// Wake every livenessRecheck and fail the call if the reader has
		// already seen the channel's input side close.
		ticker := time.NewTicker(livenessRecheck)
		defer ticker.Stop()
		for waiting := true; waiting; {
			select {
			case <-pc.doneCh:
				waiting = false
			case <-ticker.C:
				if f.ch.inClosed.Load() {
					pc.fail(ErrRequestAborted)
				}
			}
		}
	} else {
		remaining := time.Until(*deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-pc.doneCh:
		case <-timer.C:
			return nil, context.DeadlineExceeded
		}
	}

	pc.mu.Lock()
	result, respIoID, isExc, err := pc.result, pc.respIoID, pc.isExc, pc.err
	pc.mu.Unlock()

	if err != nil {
		return nil, err
	}

	// Wait for any pipe side-effects the responder promised
	// (ioId <= respIoID) before handing the result back.
	f.ch.pipeWriter.Handle(respIoID).Get()

	if isExc {
		return nil, fmt.Errorf("channel: callable raised an exception: %s", string(result))
	}
	return result, nil
}

// Cancel sends Cancel{id} to the peer if mayInterrupt is true and the
// channel can still send. The future then resolves with ErrCancelled
// at once, without waiting for any confirmation from the peer.
func (f *Future) Cancel(mayInterrupt bool) error {
	if mayInterrupt {
		if err := f.ch.sendCancel(f.pc.id); err != nil {
			return err
		}
	}
	f.pc.fail(ErrCancelled)
	return nil
}

// executingCall is the callee-side bookkeeping for one inbound
// UserRequest currently running on a worker. It lives in
// Channel.executingCalls from dispatch until the worker finishes or is
// cancelled.
type executingCall struct {
	id     int64
	cancel context.CancelFunc
}
