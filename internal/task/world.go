// Package task provides the default safepoint service used by the object
// memory: a stop-the-world protocol over attached mutator threads, and the
// waiter queue used by contended monitors.
package task

import (
	"sync"
	"sync/atomic"
)

// World tracks the attached mutator threads and stops them at safepoints.
//
// A thread is running while attached and outside a blocking region. The
// thread that stops the world waits until no other thread is running; every
// other thread parks at its next Poll and stays parked until the world is
// resumed. Threads inside a blocking region count as parked and cannot leave
// the region while the world is stopped.
type World struct {
	mu       sync.Mutex
	cond     sync.Cond
	stopped  atomic.Bool
	running  int
	attached int
}

// NewWorld returns an empty world.
func NewWorld() *World {
	w := &World{}
	w.cond.L = &w.mu
	return w
}

// Attach registers the calling thread as a running mutator. It waits for a
// stopped world to resume first, so a new thread never observes a heap in the
// middle of a collection.
func (w *World) Attach() {
	w.mu.Lock()
	for w.stopped.Load() {
		w.cond.Wait()
	}
	w.running++
	w.attached++
	w.mu.Unlock()
}

// Spawn registers a new running thread on behalf of an attached caller. A
// caller arriving during a stop parks like Poll, so the thread stopping the
// world does not wait for it.
func (w *World) Spawn() {
	w.mu.Lock()
	for w.stopped.Load() {
		w.park()
	}
	w.running++
	w.attached++
	w.mu.Unlock()
}

// Detach removes the calling thread. It must not be called between
// StopTheWorld and ResumeTheWorld by the thread that stopped the world.
func (w *World) Detach() {
	w.mu.Lock()
	w.running--
	w.attached--
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Poll is the safepoint check. It returns immediately unless a stop has been
// requested, in which case it parks until the world resumes.
func (w *World) Poll() {
	if !w.stopped.Load() {
		return
	}
	w.mu.Lock()
	w.park()
	w.mu.Unlock()
}

// park must be called with w.mu held.
func (w *World) park() {
	w.running--
	w.cond.Broadcast()
	for w.stopped.Load() {
		w.cond.Wait()
	}
	w.running++
}

// EnterBlocking marks the calling thread as parked for the duration of a
// blocking wait.
func (w *World) EnterBlocking() {
	w.mu.Lock()
	w.running--
	w.cond.Broadcast()
	w.mu.Unlock()
}

// ExitBlocking returns the calling thread to the running state, waiting for
// a stopped world to resume first.
func (w *World) ExitBlocking() {
	w.mu.Lock()
	for w.stopped.Load() {
		w.cond.Wait()
	}
	w.running++
	w.mu.Unlock()
}

// StopTheWorld parks every other attached thread. If another thread is
// already stopping the world, the caller parks until that stop is over and
// then performs its own.
func (w *World) StopTheWorld() {
	w.mu.Lock()
	for w.stopped.Load() {
		w.park()
	}
	w.stopped.Store(true)
	w.running--
	for w.running > 0 {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

// ResumeTheWorld wakes all parked threads.
func (w *World) ResumeTheWorld() {
	w.mu.Lock()
	if asserts && !w.stopped.Load() {
		w.mu.Unlock()
		panic("task: resuming a world that is not stopped")
	}
	w.stopped.Store(false)
	w.running++
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Stopped reports whether the world is currently stopped.
func (w *World) Stopped() bool {
	return w.stopped.Load()
}

// Attached returns the number of attached threads.
func (w *World) Attached() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attached
}
