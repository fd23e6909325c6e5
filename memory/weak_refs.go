package memory

import (
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/objectmemory/oop"
)

// WeakRef refers to an object without keeping it alive. The collector
// updates it when the object moves and clears it when the object dies.
type WeakRef struct {
	obj atomic.Pointer[oop.Object]
}

// Get returns the object, or nil once it has been collected.
func (w *WeakRef) Get() *oop.Object {
	return w.obj.Load()
}

type weakRefSet struct {
	mu   sync.Mutex
	refs []*WeakRef
}

// sweep clears the references whose object is dead and moves the rest with
// live. Cleared references leave the set. It returns the number cleared.
func (s *weakRefSet) sweep(dead func(*oop.Object) bool, live func(*oop.Object) *oop.Object) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	kept := s.refs[:0]
	for _, w := range s.refs {
		obj := w.obj.Load()
		if obj == nil {
			continue
		}
		if dead(obj) {
			w.obj.Store(nil)
			cleared++
			continue
		}
		if live != nil {
			w.obj.Store(live(obj))
		}
		kept = append(kept, w)
	}
	clear(s.refs[len(kept):])
	s.refs = kept
	return cleared
}

// NewWeakRef returns a weak reference to obj.
func (om *ObjectMemory) NewWeakRef(obj *oop.Object) *WeakRef {
	w := &WeakRef{}
	w.obj.Store(obj)
	om.weak.mu.Lock()
	om.weak.refs = append(om.weak.refs, w)
	om.weak.mu.Unlock()
	return w
}

// ClearWeakRef drops w before its object dies.
func (om *ObjectMemory) ClearWeakRef(w *WeakRef) {
	om.weak.mu.Lock()
	w.obj.Store(nil)
	om.weak.mu.Unlock()
}

// WeakRefs returns the number of weak references whose object is alive as
// of the last collection.
func (om *ObjectMemory) WeakRefs() int {
	om.weak.mu.Lock()
	defer om.weak.mu.Unlock()
	n := 0
	for _, w := range om.weak.refs {
		if w.obj.Load() != nil {
			n++
		}
	}
	return n
}
