package oop

import (
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/objectmemory/internal/task"
)

// InflatedHeader is the out-of-band record of an object that needs more
// state than the header word holds: a stable identity number, a monitor with
// a wide recursion count and waiters, or a native handle back-reference.
//
// An object has at most one inflated header. The record refers to its
// object; the object refers to the record only weakly, the inflated header
// pool owns it.
type InflatedHeader struct {
	object atomic.Pointer[Object]
	id     atomic.Uint64
	handle atomic.Pointer[Handle]

	mu      sync.Mutex
	owner   uint32
	count   uint64
	waiters task.Queue
}

// Object returns the object this record belongs to, or nil for a free
// record.
func (ih *InflatedHeader) Object() *Object { return ih.object.Load() }

// SetObject moves the record to obj. The collector calls this when the
// object is relocated.
func (ih *InflatedHeader) SetObject(obj *Object) { ih.object.Store(obj) }

// ObjectID returns the identity number, or 0 if none was assigned.
func (ih *InflatedHeader) ObjectID() uint64 { return ih.id.Load() }

// SetObjectID assigns the identity number once. It reports whether id was
// stored; a second assignment keeps the first number.
func (ih *InflatedHeader) SetObjectID(id uint64) bool {
	return ih.id.CompareAndSwap(0, id)
}

// Handle returns the native handle of the object, if any.
func (ih *InflatedHeader) Handle() *Handle { return ih.handle.Load() }

// SetHandle links h unless a handle is already linked. It returns the
// handle that is linked after the call.
func (ih *InflatedHeader) SetHandle(h *Handle) *Handle {
	if ih.handle.CompareAndSwap(nil, h) {
		return h
	}
	return ih.handle.Load()
}

// ClearHandle unlinks h if it is the linked handle.
func (ih *InflatedHeader) ClearHandle(h *Handle) {
	ih.handle.CompareAndSwap(h, nil)
}

// Reset clears a record before it is returned to the pool.
func (ih *InflatedHeader) Reset() {
	ih.mu.Lock()
	if gcAsserts && !ih.waiters.Empty() {
		ih.mu.Unlock()
		panic("gc: freeing an inflated header with waiters")
	}
	ih.owner = 0
	ih.count = 0
	ih.mu.Unlock()
	ih.object.Store(nil)
	ih.id.Store(0)
	ih.handle.Store(nil)
}

// Inflate links ih to the object and moves the thin lock state out of the
// header into the record. It panics if the object is already inflated.
func (o *Object) Inflate(ih *InflatedHeader) {
	if o.header.Load().Inflated() {
		panic("gc: double inflation")
	}
	ih.object.Store(o)
	o.inflated.Store(ih)
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		if w.Inflated() {
			panic("gc: double inflation")
		}
		// ih is not reachable through the header until the swap succeeds,
		// so the monitor state can be written without its lock.
		ih.owner = w.LockOwner()
		ih.count = uint64(w.LockCount())
		return w.WithInflated(true).WithThinLock(0, 0), true
	})
}

// Inflated returns the inflated header, or nil.
func (o *Object) Inflated() *InflatedHeader {
	if !o.header.Load().Inflated() {
		return nil
	}
	return o.inflated.Load()
}

// Monitor operations. The lock of the record serializes them, so a waiter
// that failed to enter is always queued before the owner can release.

// TryEnter acquires the monitor for owner, or adds one level of recursion if
// owner already holds it.
func (ih *InflatedHeader) TryEnter(owner uint32) bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.tryEnterLocked(owner)
}

func (ih *InflatedHeader) tryEnterLocked(owner uint32) bool {
	switch ih.owner {
	case 0:
		ih.owner = owner
		ih.count = 1
		return true
	case owner:
		ih.count++
		return true
	default:
		return false
	}
}

// EnterOrWait acquires the monitor for owner, or queues a waiter for it.
// Exactly one of the results is non-zero.
func (ih *InflatedHeader) EnterOrWait(owner uint32) (bool, *task.Waiter) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.tryEnterLocked(owner) {
		return true, nil
	}
	w := task.NewWaiter(owner)
	ih.waiters.Push(w)
	return false, w
}

// Exit releases one level of the monitor held by owner. It reports whether
// the monitor is now free and whether owner held it at all.
func (ih *InflatedHeader) Exit(owner uint32) (released, ok bool) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner != owner || ih.count == 0 {
		return false, false
	}
	ih.count--
	if ih.count == 0 {
		ih.owner = 0
		return true, true
	}
	return false, true
}

// AddCount adds n levels of recursion for the current owner.
func (ih *InflatedHeader) AddCount(owner uint32, n uint64) bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.owner != owner {
		return false
	}
	ih.count += n
	return true
}

// WakeNext signals the first waiter. It reports whether there was one.
func (ih *InflatedHeader) WakeNext() bool {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.waiters.WakeOne() != nil
}

// Cancel withdraws w after a timeout or interruption. If w had already been
// signalled, the wakeup is passed on to the next waiter so it is not lost.
func (ih *InflatedHeader) Cancel(w *task.Waiter) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	if ih.waiters.Remove(w) {
		return
	}
	if w.Woken() && ih.owner == 0 {
		ih.waiters.WakeOne()
	}
}

// LockState returns the owner and recursion count of the monitor.
func (ih *InflatedHeader) LockState() (owner uint32, count uint64) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.owner, ih.count
}

// Waiters returns the number of threads waiting for the monitor.
func (ih *InflatedHeader) Waiters() int {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.waiters.Len()
}
