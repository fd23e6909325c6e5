package memory

import (
	"fmt"
	"log/slog"

	"github.com/tinygo-org/objectmemory/oop"
)

// youngCollection is the state of one young collection: a Cheney copy out
// of the nursery regions that were in use when it started.
type youngCollection struct {
	om      *ObjectMemory
	marking bool

	// Copies that still have to be scanned, and the old objects they were
	// copied from.
	scan      []*oop.Object
	evacuated []*oop.Object

	survivors     []*oop.Object
	survivorBytes uintptr
	promoted      int
	promotedBytes uintptr
}

// forward returns the location of obj after the collection, copying it if
// it is a from-space object seen for the first time.
func (c *youngCollection) forward(obj *oop.Object) *oop.Object {
	if obj == nil || !c.om.young.inFromSpace(obj) {
		return obj
	}
	if obj.Forwarded() {
		return obj.Forward()
	}
	dup := c.copy(obj)
	obj.SetForward(dup)
	c.evacuated = append(c.evacuated, obj)
	c.scan = append(c.scan, dup)
	return dup
}

// copy places a surviving object. Objects above the large object threshold
// go to the large object space; objects that reached the promotion age, or
// that no longer fit in the to-space, go to the mature space; the rest stay
// young one year older.
func (c *youngCollection) copy(obj *oop.Object) *oop.Object {
	om := c.om
	size := obj.Size()
	age := obj.Age() + 1

	if size <= om.threshold && age < om.cfg.PromotionAge {
		if addr, ok := om.young.allocate(size); ok {
			dup := obj.CopyTo(addr, oop.YoungZone)
			dup.SetAge(age)
			c.survivors = append(c.survivors, dup)
			c.survivorBytes += size
			return dup
		}
	}

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
		// A collection cannot fail halfway; running out of space here is fatal.
		panic(fmt.Errorf("gc: young collection could not place %d bytes: %w", size, ErrOutOfMemory))
	}
	dup := obj.CopyTo(addr, zone)
	dup.SetAge(age)
	if zone == oop.MatureZone {
		om.immix.add(dup)
	} else {
		om.large.add(dup)
	}
	om.matureAllocated.Add(uint64(size))
	c.promoted++
	c.promotedBytes += size
	if c.marking {
		// The marker has to see objects promoted while it runs.
		om.marker.push(dup)
	}
	return dup
}

// refersToYoung reports whether obj holds a reference to a young object.
func refersToYoung(obj *oop.Object) bool {
	young := false
	obj.EachReference(func(ref *oop.Object) {
		if ref.IsYoung() {
			young = true
		}
	})
	return young
}

// collectYoung runs a young collection. The world must be stopped and the
// allocation lock held.
func (om *ObjectMemory) collectYoung(data *GCData) {
	c := &youngCollection{
		om:      om,
		marking: om.matureGCInProgress.Load(),
	}
	if c.marking {
		om.marker.Pause()
		defer om.marker.Resume()
	}

	from, objects := om.young.beginCollection()
	om.mutatorLock.Lock()
	for m := range om.mutators {
		objects = append(objects, m.allocated...)
		m.allocated = nil
		m.slab.reset()
	}
	om.mutatorLock.Unlock()

	// Roots.
	data.update(c.forward)
	if c.marking {
		om.marker.forward(c.forward)
	}
	om.rememberedLock.Lock()
	remembered := om.remembered
	om.remembered = nil
	om.rememberedLock.Unlock()
	for _, obj := range remembered {
		obj.UpdateReferences(c.forward)
	}

	// Cheney scan. Promoted copies that still refer to young objects are
	// remembered for the next collection.
	for i := 0; i < len(c.scan); i++ {
		obj := c.scan[i]
		obj.UpdateReferences(c.forward)
		if !obj.IsYoung() && refersToYoung(obj) && obj.SetRemembered(true) {
			remembered = append(remembered, obj)
		}
	}

	kept := remembered[:0]
	for _, obj := range remembered {
		if obj.Zone() != oop.UnspecifiedZone && refersToYoung(obj) {
			kept = append(kept, obj)
		} else {
			obj.SetRemembered(false)
		}
	}
	om.rememberedLock.Lock()
	om.remembered = append(kept, om.remembered...)
	om.rememberedLock.Unlock()

	// Side tables that refer to young objects.
	dead := func(obj *oop.Object) bool {
		return obj.Zone() == oop.UnspecifiedZone || (om.young.inFromSpace(obj) && !obj.Forwarded())
	}
	live := func(obj *oop.Object) *oop.Object {
		if om.young.inFromSpace(obj) {
			return obj.Forward()
		}
		return obj
	}
	om.handles.pruneYoung(c)
	om.inflationLock.Lock()
	freedHeaders := om.inflated.sweep(dead)
	om.inflationLock.Unlock()
	finalized := om.finalizer.sweep(dead, live)
	codeBytes := om.code.sweep(dead, live)
	weakCleared := om.weak.sweep(dead, live)

	// Every from-space object is now either copied or dead.
	for _, obj := range objects {
		obj.Retire()
	}
	om.young.endCollection(from)
	om.young.objects = c.survivors

	om.youngObjects.Store(int64(len(c.survivors)))
	om.youngBytes.Store(int64(c.survivorBytes))
	if om.matureAllocated.Load() >= uint64(om.cfg.MatureTrigger) || (om.stress.Load() && c.promoted > 0) {
		om.collectMatureNow.Store(true)
	}

	om.stats.mu.Lock()
	om.stats.youngCollections++
	om.stats.promoted += uint64(c.promoted)
	om.stats.mu.Unlock()

	om.log.Debug("young collection",
		slog.Uint64("snapshot", data.id),
		slog.Int("evacuated", len(c.evacuated)),
		slog.Int("dead", len(objects)-len(c.evacuated)),
		slog.Int("survivors", len(c.survivors)),
		slog.Int("promoted", c.promoted),
		slog.Int("remembered", len(kept)),
		slog.Int("inflated_freed", freedHeaders),
		slog.Int("finalizers_queued", finalized),
		slog.Uint64("code_bytes_freed", uint64(codeBytes)),
		slog.Int("weak_cleared", weakCleared),
		slog.Bool("during_mark", c.marking))
}
