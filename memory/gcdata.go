package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// GCData is the root set of one collection, captured at a safepoint. Slots
// are captured by address so a young collection can update them in place.
type GCData struct {
	id uint64

	// Mutator roots, global roots and the finalizer object slots of
	// finalizer records and queued finalize work.
	slots []*oop.Value

	// Handles that are roots: referenced from native code, cached, or
	// stored at a global handle location.
	handles []*oop.Handle
}

// gcData captures the roots. The world must be stopped.
func (om *ObjectMemory) gcData() *GCData {
	data := &GCData{id: om.lastSnapshotID.Add(1)}

	om.mutatorLock.Lock()
	for m := range om.mutators {
		data.slots = append(data.slots, m.roots...)
	}
	om.mutatorLock.Unlock()

	om.rootLock.Lock()
	for slot := range om.globalRoots {
		data.slots = append(data.slots, slot)
	}
	om.rootLock.Unlock()

	data.slots = om.finalizer.appendRoots(data.slots)
	data.handles = om.handles.appendRoots(data.handles)
	return data
}

// ID returns the snapshot id.
func (d *GCData) ID() uint64 {
	return d.id
}

// eachRoot calls fn with every object referenced by a root.
func (d *GCData) eachRoot(fn func(*oop.Object)) {
	for _, slot := range d.slots {
		if obj := slot.Object(); obj != nil {
			fn(obj)
		}
	}
	for _, h := range d.handles {
		if obj := h.Object(); obj != nil {
			fn(obj)
		}
	}
}

// update replaces every root with the result of fn. Only a young collection
// calls this.
func (d *GCData) update(fn func(*oop.Object) *oop.Object) {
	for _, slot := range d.slots {
		if obj := slot.Object(); obj != nil {
			if to := fn(obj); to != obj {
				*slot = oop.Ref(to)
			}
		}
	}
	for _, h := range d.handles {
		if obj := h.Object(); obj != nil {
			if to := fn(obj); to != obj {
				h.Update(to)
			}
		}
	}
}
