package memory

import (
	"log/slog"

	"github.com/tinygo-org/objectmemory/oop"
)

// collectMature starts a mature cycle with a new mark value. When
// concurrent, the marker goroutine takes over and the cycle is finished at a
// later safepoint; otherwise the cycle completes here. The world must be
// stopped and the allocation lock held.
func (om *ObjectMemory) collectMature(data *GCData, concurrent bool) {
	if gcAsserts && om.matureGCInProgress.Load() {
		panic("gc: mature collection started while another is in progress")
	}
	mark := om.rotateMark()
	om.collectMatureNow.Store(false)
	om.matureAllocated.Store(0)
	om.marker.start(data, mark)

	if concurrent {
		om.matureGCInProgress.Store(true)
		om.marker.startConcurrent()
		om.log.Debug("mature collection started",
			slog.Uint64("snapshot", data.id),
			slog.Int("mark", int(mark)))
		return
	}

	om.marker.mu.Lock()
	om.marker.drain()
	om.marker.data = nil
	om.marker.mu.Unlock()
	om.sweepMature(data, mark)
}

// collectMatureFinish completes a concurrent cycle: the roots are scanned
// again, the remaining work drained and the heap swept. The world must be
// stopped and the allocation lock held.
func (om *ObjectMemory) collectMatureFinish(data *GCData) {
	if !om.matureGCInProgress.Load() {
		return
	}
	start := om.marker.finish(data)
	if gcAsserts && start == nil {
		panic("gc: finishing a mature cycle that was never started")
	}
	om.sweepMature(data, om.marker.mark)
	om.matureGCInProgress.Store(false)
	om.collectMatureFinishNow.Store(false)
}

// sweepMature frees every mature and large object that does not carry mark,
// along with the side table entries of those objects.
func (om *ObjectMemory) sweepMature(data *GCData, mark uint8) {
	dead := func(obj *oop.Object) bool {
		switch obj.Zone() {
		case oop.MatureZone, oop.LargeZone:
			return !obj.Marked(mark)
		case oop.UnspecifiedZone:
			return true
		}
		return false
	}

	finalized := om.finalizer.sweep(dead, nil)
	handles := om.handles.sweepMature(mark)
	om.inflationLock.Lock()
	freedHeaders := om.inflated.sweep(dead)
	om.inflationLock.Unlock()
	codeBytes := om.code.sweep(dead, nil)
	weakCleared := om.weak.sweep(dead, nil)

	om.rememberedLock.Lock()
	kept := om.remembered[:0]
	for _, obj := range om.remembered {
		if dead(obj) {
			obj.SetRemembered(false)
			continue
		}
		kept = append(kept, obj)
	}
	clear(om.remembered[len(kept):])
	om.remembered = kept
	om.rememberedLock.Unlock()

	matureObjects, matureBytes := om.immix.sweep(mark, nil)
	largeObjects, largeBytes := om.large.sweep(mark, nil)
	om.clearYoungMarks()

	om.stats.mu.Lock()
	om.stats.matureCollections++
	om.stats.mu.Unlock()

	om.log.Debug("mature collection",
		slog.Uint64("snapshot", data.id),
		slog.Int("mark", int(mark)),
		slog.Uint64("scanned", om.marker.Scanned()),
		slog.Int("mature_freed", matureObjects),
		slog.Uint64("mature_bytes_freed", uint64(matureBytes)),
		slog.Int("large_freed", largeObjects),
		slog.Uint64("large_bytes_freed", uint64(largeBytes)),
		slog.Int("handles_invalidated", handles),
		slog.Int("inflated_freed", freedHeaders),
		slog.Int("finalizers_queued", finalized),
		slog.Uint64("code_bytes_freed", uint64(codeBytes)),
		slog.Int("weak_cleared", weakCleared))
}

// clearYoungMarks resets the marks the cycle left on young objects. Marks
// alternate between two values, so a young object still carrying this
// cycle's mark two cycles later would be taken as already scanned.
func (om *ObjectMemory) clearYoungMarks() {
	for _, obj := range om.young.objects {
		obj.ClearMark()
	}
	om.mutatorLock.Lock()
	for m := range om.mutators {
		for _, obj := range m.allocated {
			obj.ClearMark()
		}
	}
	om.mutatorLock.Unlock()
}
