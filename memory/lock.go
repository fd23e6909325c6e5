package memory

import (
	"time"

	"github.com/tinygo-org/objectmemory/oop"
)

// LockStatus is the result of a lock operation.
type LockStatus uint8

const (
	LockAcquired LockStatus = iota
	LockTimeout
	LockInterrupted
	LockUnlocked
	LockError
)

func (s LockStatus) String() string {
	switch s {
	case LockAcquired:
		return "acquired"
	case LockTimeout:
		return "timeout"
	case LockInterrupted:
		return "interrupted"
	case LockUnlocked:
		return "unlocked"
	case LockError:
		return "error"
	default:
		return "!err"
	}
}

// Lock acquires the monitor of obj for m. Locks are recursive.
//
// An uncontended lock lives in the object header. When another thread
// holds it, or the recursion count no longer fits in the header, the header
// is inflated and the lock continues in the inflated header. A timeout of
// zero waits forever. An interruptible wait ends with LockInterrupted when
// the mutator is interrupted.
func (om *ObjectMemory) Lock(m *Mutator, obj *oop.Object, timeout time.Duration, interruptible bool) LockStatus {
	h := obj.Header()
	for {
		w := h.Load()
		if w.Inflated() {
			break
		}
		switch owner := w.LockOwner(); owner {
		case 0:
			if h.CompareAndSwap(w, w.WithThinLock(m.id, 1)) {
				return LockAcquired
			}
			continue
		case m.id:
			count := w.LockCount()
			if count < oop.MaxThinLockCount {
				if h.CompareAndSwap(w, w.WithThinLock(m.id, count+1)) {
					return LockAcquired
				}
				continue
			}
			om.InflateLockCountOverflow(m, obj)
		default:
			om.InflateForContention(obj)
		}
	}
	return om.ContendForLock(m, obj, timeout, interruptible)
}

// TryLock acquires the monitor of obj without waiting.
func (om *ObjectMemory) TryLock(m *Mutator, obj *oop.Object) bool {
	h := obj.Header()
	for {
		w := h.Load()
		if w.Inflated() {
			return obj.Inflated().TryEnter(m.id)
		}
		switch w.LockOwner() {
		case 0:
			if h.CompareAndSwap(w, w.WithThinLock(m.id, 1)) {
				return true
			}
		case m.id:
			if w.LockCount() == oop.MaxThinLockCount {
				om.InflateLockCountOverflow(m, obj)
				continue
			}
			if h.CompareAndSwap(w, w.WithThinLock(m.id, w.LockCount()+1)) {
				return true
			}
		default:
			return false
		}
	}
}

// InflateLockCountOverflow moves a thin lock whose recursion count is at
// the header maximum into the inflated header, where the count is 64 bits.
func (om *ObjectMemory) InflateLockCountOverflow(m *Mutator, obj *oop.Object) *oop.InflatedHeader {
	ih := om.InflateHeader(obj)
	if gcAsserts {
		if owner, _ := ih.LockState(); owner != m.id {
			panic("gc: lock count overflow by a thread that does not hold the lock")
		}
	}
	return ih
}

// InflateForContention inflates obj so that a thread that finds the thin
// lock held has a queue to wait on.
func (om *ObjectMemory) InflateForContention(obj *oop.Object) *oop.InflatedHeader {
	return om.InflateHeader(obj)
}

// ContendForLock waits for the inflated monitor of obj. The wait counts as
// parked for the safepoint service. A woken waiter retries; if the lock was
// taken again in the meantime it queues again, keeping what is left of the
// timeout.
func (om *ObjectMemory) ContendForLock(m *Mutator, obj *oop.Object, timeout time.Duration, interruptible bool) LockStatus {
	ih := om.InflateHeader(obj)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	var interrupted <-chan struct{}
	if interruptible {
		interrupted = m.interrupt
	}

	for {
		entered, w := ih.EnterOrWait(m.id)
		if entered {
			return LockAcquired
		}
		om.safepoint.EnterBlocking()
		select {
		case <-w.Wake():
			om.safepoint.ExitBlocking()
		case <-expired:
			om.safepoint.ExitBlocking()
			ih.Cancel(w)
			return LockTimeout
		case <-interrupted:
			om.safepoint.ExitBlocking()
			ih.Cancel(w)
			return LockInterrupted
		}
	}
}

// Unlock releases one level of the monitor of obj. It returns LockError if
// m does not hold it.
func (om *ObjectMemory) Unlock(m *Mutator, obj *oop.Object) LockStatus {
	h := obj.Header()
	for {
		w := h.Load()
		if w.Inflated() {
			break
		}
		if w.LockOwner() != m.id {
			return LockError
		}
		next := w.WithThinLock(0, 0)
		if count := w.LockCount(); count > 1 {
			next = w.WithThinLock(m.id, count-1)
		}
		if h.CompareAndSwap(w, next) {
			return LockUnlocked
		}
	}

	ih := obj.Inflated()
	released, ok := ih.Exit(m.id)
	if !ok {
		return LockError
	}
	if released {
		om.ReleaseContention(ih)
	}
	return LockUnlocked
}

// ReleaseContention wakes the next thread waiting for a monitor that was
// just released. Only one waiter is woken.
func (om *ObjectMemory) ReleaseContention(ih *oop.InflatedHeader) {
	ih.WakeNext()
}

// LockOwner returns the id of the thread holding the monitor of obj and its
// recursion count.
func (om *ObjectMemory) LockOwner(obj *oop.Object) (owner uint32, count uint64) {
	w := obj.Header().Load()
	if !w.Inflated() {
		return w.LockOwner(), uint64(w.LockCount())
	}
	return obj.Inflated().LockState()
}
