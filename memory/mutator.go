package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// Mutator is a thread that allocates and mutates objects. Each mutator owns
// one slab and a stack of root slots. A Mutator must only be used by one
// goroutine at a time.
type Mutator struct {
	om   *ObjectMemory
	id   uint32
	slab Slab

	// Young objects allocated from the slab since the last young
	// collection.
	allocated []*oop.Object

	roots     []*oop.Value
	interrupt chan struct{}
	closed    bool
}

// NewMutator attaches a new mutator thread. It waits for a running
// collection to complete first. It must not be called by a goroutine that
// drives an attached mutator; use Mutator.NewMutator there.
func (om *ObjectMemory) NewMutator() *Mutator {
	om.safepoint.Attach()
	return om.register()
}

// NewMutator attaches a new mutator thread created by m. m parks while a
// collection runs, so creating threads is safe during a stop.
func (m *Mutator) NewMutator() *Mutator {
	m.om.safepoint.Spawn()
	return m.om.register()
}

func (om *ObjectMemory) register() *Mutator {
	om.mutatorLock.Lock()
	defer om.mutatorLock.Unlock()
	om.lastMutatorID++
	if gcAsserts && om.lastMutatorID > oop.MaxThinLockOwner {
		panic("gc: too many mutator threads")
	}
	m := &Mutator{
		om:        om,
		id:        om.lastMutatorID,
		interrupt: make(chan struct{}, 1),
	}
	om.mutators[m] = struct{}{}
	return m
}

// ID returns the thread id used as the lock owner.
func (m *Mutator) ID() uint32 {
	return m.id
}

// Memory returns the object memory the mutator belongs to.
func (m *Mutator) Memory() *ObjectMemory {
	return m.om
}

// Close detaches the mutator. Its roots stop being roots and its slab is
// abandoned.
func (m *Mutator) Close() {
	if m.closed {
		return
	}
	m.closed = true
	om := m.om
	om.mutatorLock.Lock()
	delete(om.mutators, m)
	om.mutatorLock.Unlock()

	// The objects allocated from the slab are still young; hand them to the
	// nursery so the next young collection accounts for them.
	om.allocationLock.Lock()
	om.young.objects = append(om.young.objects, m.allocated...)
	om.allocationLock.Unlock()
	m.allocated = nil
	m.slab.reset()
	m.roots = nil
	om.safepoint.Detach()
}

// Checkpoint is a safepoint. It runs a requested collection if collections
// are allowed, and otherwise parks while another thread collects.
func (m *Mutator) Checkpoint() {
	m.om.CollectMaybe(m)
	m.om.safepoint.Poll()
}

// Blocking runs fn as a blocking region: collections may run while fn
// executes. fn must not touch the heap.
func (m *Mutator) Blocking(fn func()) {
	m.om.safepoint.EnterBlocking()
	defer m.om.safepoint.ExitBlocking()
	fn()
}

// PushRoot registers slot as a root of this thread. The collector updates
// the slot when its object moves.
func (m *Mutator) PushRoot(slot *oop.Value) {
	m.roots = append(m.roots, slot)
}

// PopRoot unregisters the most recently pushed root.
func (m *Mutator) PopRoot() {
	if gcAsserts && len(m.roots) == 0 {
		panic("gc: root stack underflow")
	}
	m.roots[len(m.roots)-1] = nil
	m.roots = m.roots[:len(m.roots)-1]
}

// Roots returns the number of registered roots.
func (m *Mutator) Roots() int {
	return len(m.roots)
}

// Interrupt wakes the mutator if it waits for a lock interruptibly. An
// interrupt sent while the mutator is not waiting is kept for its next
// interruptible wait.
func (m *Mutator) Interrupt() {
	select {
	case m.interrupt <- struct{}{}:
	default:
	}
}

// Slab returns the mutator's allocation buffer.
func (m *Mutator) Slab() *Slab {
	return &m.slab
}
