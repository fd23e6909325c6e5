package memory

import (
	"fmt"

	"github.com/tinygo-org/objectmemory/oop"
)

// Allocate returns a new object of the given size and type in the most
// appropriate space. The object has FieldsFor(size) reference fields, all
// nil, and class as its class. It must be fully initialized with the Init*
// setters before it is stored anywhere.
//
// Allocate never collects. When no space can hold the object it requests a
// collection and returns an error wrapping ErrOutOfMemory.
func (om *ObjectMemory) Allocate(m *Mutator, class *oop.Object, size uintptr, t oop.TypeTag) (*oop.Object, error) {
	obj, err := om.allocate(m, oop.FieldsFor(size), 0, size, t, false)
	if err != nil {
		return nil, err
	}
	obj.InitClass(oop.Ref(class))
	return obj, nil
}

// AllocatePinned is like Allocate, but the object never moves.
func (om *ObjectMemory) AllocatePinned(m *Mutator, class *oop.Object, size uintptr, t oop.TypeTag) (*oop.Object, error) {
	obj, err := om.allocate(m, oop.FieldsFor(size), 0, size, t, true)
	if err != nil {
		return nil, err
	}
	obj.InitClass(oop.Ref(class))
	return obj, nil
}

// allocate places an object with the given shape. The retry is bounded:
// the slab, a refilled slab or the nursery directly, then the mature or
// large space, then failure.
func (om *ObjectMemory) allocate(m *Mutator, fields, bytes int, size uintptr, t oop.TypeTag, pinned bool) (*oop.Object, error) {
	if need := oop.SizeFor(fields, bytes); size < need {
		size = need
	}
	size = oop.Align(size)

	if !pinned && size <= om.threshold {
		if size > om.slabSize/4 {
			// Too big to waste slab tails on.
			if obj := om.allocateYoung(fields, bytes, size, t); obj != nil {
				return obj, nil
			}
		} else {
			for attempt := 0; attempt < 2; attempt++ {
				if addr, ok := m.slab.Allocate(size); ok {
					obj := oop.NewObject(addr, size, oop.InitHeader(oop.YoungZone, t), fields, bytes)
					m.allocated = append(m.allocated, obj)
					om.youngObjects.Add(1)
					om.youngBytes.Add(int64(size))
					return obj, nil
				}
				if attempt == 0 && !om.RefillSlab(m) {
					break
				}
			}
		}
	}
	return om.allocateMature(fields, bytes, size, t, pinned)
}

// RefillSlab carves a new slab for m out of the nursery. It fails, and
// requests a young collection, when the nursery is full.
func (om *ObjectMemory) RefillSlab(m *Mutator) bool {
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()
	addr, ok := om.young.allocate(om.slabSize)
	if !ok {
		om.collectYoungNow.Store(true)
		return false
	}
	m.slab.refill(addr, om.slabSize)
	if om.stress.Load() {
		om.collectYoungNow.Store(true)
	}
	return true
}

// allocateYoung places an object directly in the nursery.
func (om *ObjectMemory) allocateYoung(fields, bytes int, size uintptr, t oop.TypeTag) *oop.Object {
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()
	addr, ok := om.young.allocate(size)
	if !ok {
		om.collectYoungNow.Store(true)
		return nil
	}
	obj := oop.NewObject(addr, size, oop.InitHeader(oop.YoungZone, t), fields, bytes)
	om.young.objects = append(om.young.objects, obj)
	om.youngObjects.Add(1)
	om.youngBytes.Add(int64(size))
	return obj
}

// allocateMature places an object in the mature space, or in the large
// object space when it is above the threshold or the mature space is full.
func (om *ObjectMemory) allocateMature(fields, bytes int, size uintptr, t oop.TypeTag, pinned bool) (*oop.Object, error) {
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()

	zone := oop.MatureZone
	addr, ok := oop.Address(0), false
	if size <= om.threshold {
		addr, ok = om.immix.allocate(size)
	}
	if !ok {
		zone = oop.LargeZone
		addr, ok = om.large.allocate(size)
	}
	if !ok {
		om.collectMatureNow.Store(true)
		return nil, fmt.Errorf("%w: no space for %d bytes", ErrOutOfMemory, size)
	}

	header := oop.InitHeader(zone, t).WithPinned(pinned)
	if om.matureGCInProgress.Load() {
		// The marker may already have passed the objects this one will be
		// stored into; it survives this cycle and is scanned at finish.
		header = header.WithMark(om.currentMark())
	}
	obj := oop.NewObject(addr, size, header, fields, bytes)
	if zone == oop.MatureZone {
		om.immix.add(obj)
	} else {
		om.large.add(obj)
	}
	if header.Mark() != 0 {
		om.marker.allocated = append(om.marker.allocated, obj)
	}

	// Initializing stores bypass the write barrier, so the object starts
	// out remembered. The next young collection drops it from the
	// remembered set if it holds no young references.
	if obj.SetRemembered(true) {
		om.remember(obj)
	}

	if om.matureAllocated.Add(uint64(size)) >= uint64(om.cfg.MatureTrigger) || om.stress.Load() {
		om.collectMatureNow.Store(true)
	}
	return obj, nil
}

// New allocates and initializes an object of kind with class.
func (om *ObjectMemory) New(m *Mutator, kind *oop.Kind, class *oop.Object) (*oop.Object, error) {
	return om.newKind(m, kind, class, kind.Fields, kind.Bytes, false)
}

// NewFields is New with n reference fields instead of the kind's default.
func (om *ObjectMemory) NewFields(m *Mutator, kind *oop.Kind, class *oop.Object, n int) (*oop.Object, error) {
	return om.newKind(m, kind, class, n, kind.Bytes, false)
}

// NewBytes is New with an n-byte payload instead of the kind's default.
func (om *ObjectMemory) NewBytes(m *Mutator, kind *oop.Kind, class *oop.Object, n int) (*oop.Object, error) {
	return om.newKind(m, kind, class, kind.Fields, n, false)
}

// NewPinned is New for an object that never moves.
func (om *ObjectMemory) NewPinned(m *Mutator, kind *oop.Kind, class *oop.Object) (*oop.Object, error) {
	return om.newKind(m, kind, class, kind.Fields, kind.Bytes, true)
}

func (om *ObjectMemory) NewFieldsPinned(m *Mutator, kind *oop.Kind, class *oop.Object, n int) (*oop.Object, error) {
	return om.newKind(m, kind, class, n, kind.Bytes, true)
}

func (om *ObjectMemory) NewBytesPinned(m *Mutator, kind *oop.Kind, class *oop.Object, n int) (*oop.Object, error) {
	return om.newKind(m, kind, class, kind.Fields, n, true)
}

func (om *ObjectMemory) newKind(m *Mutator, kind *oop.Kind, class *oop.Object, fields, bytes int, pinned bool) (*oop.Object, error) {
	obj, err := om.allocate(m, fields, bytes, oop.SizeFor(fields, bytes), kind.Type, pinned)
	if err != nil {
		return nil, fmt.Errorf("allocating %s: %w", kind.Name, err)
	}
	obj.InitClass(oop.Ref(class))
	if kind.Initialize != nil {
		kind.Initialize(obj)
	}
	return obj, nil
}
