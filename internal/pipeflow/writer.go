// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipeflow

import "sync"

// Writer is the per-channel, single-threaded sequencer keyed by ioId.
// Submit schedules a runnable; the sequencer guarantees runnables
// execute in the order their ioIds were assigned on the sending side,
// and that a caller blocked on Get(K) observes every effect of ioIds
// <= K once it returns. This is the ordering primitive that lets a
// response's ResponseIoID correctly wait for the pipe side-effects
// that preceded it.
type Writer struct {
	mu        sync.Mutex
	cond      sync.Cond
	completed int64
	jobs      chan job
	closed    bool
	drained   chan struct{}
	closeOnce sync.Once
}

type job struct {
	ioID int64
	run  func()
}

// NewWriter starts a Writer with its background sequencer goroutine
// running. queueDepth bounds how many submitted-but-not-yet-run jobs
// may be buffered before Submit blocks; 0 is a sensible default for
// most embedders since the reader goroutine submits one job at a
// time anyway.
func NewWriter(queueDepth int) *Writer {
	w := &Writer{jobs: make(chan job, queueDepth), drained: make(chan struct{})}
	w.cond.L = &w.mu
	go w.run()
	return w
}

func (w *Writer) run() {
	for j := range w.jobs {
		j.run()
		w.mu.Lock()
		w.completed = j.ioID
		w.cond.Broadcast()
		w.mu.Unlock()
	}
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	close(w.drained)
}

// Handle is returned by Submit; Get blocks until the submitted
// runnable has executed.
type Handle struct {
	w    *Writer
	ioID int64
}

// Submit schedules fn to run after every previously submitted job has
// run, tagging it with ioID. ioID must be the monotonically allocated
// id the sender assigned to the corresponding side-effecting command;
// since commands arrive on the wire in the order they were sent, the
// reader goroutine's calls to Submit are already in ioId order, so no
// reordering is attempted here.
func (w *Writer) Submit(ioID int64, fn func()) Handle {
	w.jobs <- job{ioID: ioID, run: fn}
	return Handle{w: w, ioID: ioID}
}

// Handle returns a handle for waiting on ioID without submitting any
// job of its own, for callers (like an inbound UserRequest's
// LastIoID) that only need to wait for effects already in flight.
func (w *Writer) Handle(ioID int64) Handle {
	return Handle{w: w, ioID: ioID}
}

// Get blocks until the sequencer has executed every job up to and
// including this handle's ioID. Get(0) (the zero handle) is a no-op:
// ioId 0 means "no preceding I/O to wait for".
func (h Handle) Get() {
	if h.ioID == 0 {
		return
	}
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	for h.w.completed < h.ioID && !h.w.closed {
		h.w.cond.Wait()
	}
}

// Close stops accepting new jobs and waits for every already-submitted
// job to run before returning. Get calls for ioIDs beyond what was
// submitted unblock once the queue has fully drained.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.jobs)
	})
	<-w.drained
}

// Completed returns the highest ioID the sequencer has finished
// executing, for diagnostics and tests.
func (w *Writer) Completed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}
