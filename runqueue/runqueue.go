/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package runqueue

import (
	"runtime"
	"sync"

	"github.com/aether-im/aether/log"
)

// RunQueue represents a named operation queue.
// Queued functions are executed serially in FIFO order by a single
// worker goroutine that is spawned on demand.
type RunQueue struct {
	name    string
	mu      sync.Mutex
	items   []func()
	active  bool
	stopped bool
	stopCb  func()
}

// New returns an initialized run queue.
func New(name string) *RunQueue {
	return &RunQueue{name: name}
}

// Run pushes a new operation function into the queue.
func (q *RunQueue) Run(fn func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	if q.active {
		q.mu.Unlock()
		return
	}
	q.active = true
	q.mu.Unlock()

	go q.process()
}

// Stop signals the queue to stop accepting operations.
// stopCb is invoked once all previously queued operations have completed,
// or immediately if the queue is idle.
func (q *RunQueue) Stop(stopCb func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.active {
		q.stopCb = stopCb
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	if stopCb != nil {
		stopCb()
	}
}

func (q *RunQueue) process() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.active = false
			stopCb := q.stopCb
			q.stopCb = nil
			q.mu.Unlock()
			if stopCb != nil {
				stopCb()
			}
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.invoke(fn)
	}
}

func (q *RunQueue) invoke(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			q.logStackTrace(err)
		}
	}()
	fn()
}

func (q *RunQueue) logStackTrace(err interface{}) {
	stackSlice := make([]byte, 4096)
	s := runtime.Stack(stackSlice, false)

	log.Errorf("runqueue '%s' panicked with error: %v\n%s", q.name, err, stackSlice[0:s])
}
