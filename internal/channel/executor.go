// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

// Executor runs inbound UserRequest callables. The embedder supplies
// one; it must be unbounded enough to avoid deadlock when a callable
// calls back into the channel that's running it.
type Executor interface {
	Submit(fn func())
}

// GoExecutor submits every job as its own goroutine. This is the
// default, matching this project's own habit of spawning one
// goroutine per logical unit of inbound work rather than routing
// through a shared worker pool.
type GoExecutor struct{}

func (GoExecutor) Submit(fn func()) {
	go fn()
}

// SemaphoreExecutor bounds the number of concurrently running jobs
// using a buffered channel as a counting semaphore. Jobs beyond the
// limit queue (as goroutines blocked acquiring the semaphore) rather
// than being rejected.
type SemaphoreExecutor struct {
	sem chan struct{}
}

// NewSemaphoreExecutor creates an executor that runs at most limit
// jobs concurrently. limit must be >= 1.
func NewSemaphoreExecutor(limit int) *SemaphoreExecutor {
	if limit < 1 {
		limit = 1
	}
	return &SemaphoreExecutor{sem: make(chan struct{}, limit)}
}

func (e *SemaphoreExecutor) Submit(fn func()) {
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		fn()
	}()
}
