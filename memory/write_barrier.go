package memory

import "github.com/tinygo-org/objectmemory/oop"

// WriteBarrier records the store of value into target. Object.SetField and
// the other Set* setters call it after every store into a published object.
//
// Two things are recorded. A young value stored into an object outside the
// nursery puts that object in the remembered set, which is a root of the
// next young collection. While a mature cycle is in progress, an unmarked
// value is handed to the marker, so it is not lost when target was already
// scanned.
func (om *ObjectMemory) WriteBarrier(target *oop.Object, value oop.Value) {
	obj := value.Object()
	if obj == nil {
		// Immediates need no tracking.
		return
	}
	if om.matureGCInProgress.Load() && !obj.Marked(om.currentMark()) {
		om.marker.Snoop(obj)
	}
	if obj.IsYoung() && !target.IsYoung() && target.SetRemembered(true) {
		om.remember(target)
	}
}

var _ oop.WriteBarrier = (*ObjectMemory)(nil)
