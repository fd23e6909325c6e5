package memory

import (
	"github.com/tinygo-org/objectmemory/diagnostics"
	"github.com/tinygo-org/objectmemory/oop"
)

// Position is where ValidateObject found an object.
type Position uint8

const (
	Unknown Position = iota
	InYoung
	InMature
	InLarge
)

func (p Position) String() string {
	switch p {
	case InYoung:
		return "young"
	case InMature:
		return "mature"
	case InLarge:
		return "large"
	default:
		return "unknown"
	}
}

// ValidateObject reports which space obj is a live member of. Dead and
// relocated objects are Unknown.
func (om *ObjectMemory) ValidateObject(obj *oop.Object) Position {
	if obj == nil {
		return Unknown
	}
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()
	switch obj.Zone() {
	case oop.YoungZone:
		if om.young.contains(obj) {
			return InYoung
		}
	case oop.MatureZone:
		if om.immix.contains(obj) {
			return InMature
		}
	case oop.LargeZone:
		if om.large.contains(obj) {
			return InLarge
		}
	}
	return Unknown
}

// ValidObject reports whether obj is a live object of any space.
func (om *ObjectMemory) ValidObject(obj *oop.Object) bool {
	return om.ValidateObject(obj) != Unknown
}

// Diagnostics returns a snapshot of the counters.
func (om *ObjectMemory) Diagnostics() diagnostics.ObjectDiagnostics {
	var d diagnostics.ObjectDiagnostics

	om.allocationLock.Lock()
	d.Young = diagnostics.Space{
		Name:     "young",
		Objects:  uint64(om.youngObjects.Load()),
		Bytes:    uint64(om.youngBytes.Load()),
		Capacity: uint64(om.young.capacity()),
	}
	d.Mature = diagnostics.Space{
		Name:     "mature",
		Objects:  uint64(om.immix.objects),
		Bytes:    uint64(om.immix.bytes),
		Capacity: uint64(uintptr(len(om.regions.regions))*om.regions.regionSize - om.young.capacity()),
	}
	d.Large = diagnostics.Space{
		Name:     "large",
		Objects:  uint64(len(om.large.objects)),
		Bytes:    uint64(om.large.bytes),
		Capacity: uint64(om.large.blocks * largeBlockSize),
	}
	d.Regions = len(om.regions.regions)
	d.FreeRegions = om.regions.freeRegions()
	om.allocationLock.Unlock()

	d.Remembered = om.RememberedSetSize()
	d.InflatedHeaders = om.InflatedHeaders()
	d.YoungHandles, d.MatureHandles = om.Handles()
	var codeBytes uintptr
	d.CodeResources, codeBytes, d.CodeFreed, d.CodeFreedBytes = om.code.Stats()
	d.CodeBytes = uint64(codeBytes)
	d.Finalizers, d.FinalizersDue = om.Finalizers()
	d.MatureInProgress = om.matureGCInProgress.Load()

	om.stats.mu.Lock()
	d.YoungCollections = om.stats.youngCollections
	d.MatureCollections = om.stats.matureCollections
	d.Promoted = om.stats.promoted
	d.PauseTotal = om.stats.pauseTotal
	if n := len(om.stats.pauses); n > 0 {
		d.LastPause = om.stats.pauses[n-1]
	}
	om.stats.mu.Unlock()
	return d
}
