package memory

import (
	"time"
)

// CollectMaybe runs the collections that were requested, if collections are
// allowed. m must be the calling thread. It reports whether the world was
// stopped.
func (om *ObjectMemory) CollectMaybe(m *Mutator) bool {
	if !om.CanGC() || !om.collectRequested() {
		return false
	}
	om.stopTheWorld(m)
	defer om.resumeTheWorld()

	// Another thread may have run the collection while this one waited.
	young := om.collectYoungNow.Swap(false)
	finish := om.collectMatureFinishNow.Swap(false) && om.matureGCInProgress.Load()
	mature := om.collectMatureNow.Load() && !om.matureGCInProgress.Load()
	if !young && !finish && !mature {
		return true
	}

	start := time.Now()
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()
	data := om.gcData()
	if young {
		om.collectYoung(data)
	}
	if finish {
		om.collectMatureFinish(data)
	} else if mature {
		om.collectMature(data, om.cfg.Concurrent)
	}
	om.stats.recordPause(start)
	return true
}

func (om *ObjectMemory) collectRequested() bool {
	return om.collectYoungNow.Load() ||
		om.collectMatureFinishNow.Load() ||
		(om.collectMatureNow.Load() && !om.matureGCInProgress.Load())
}

func (om *ObjectMemory) stopTheWorld(m *Mutator) {
	if gcAsserts && m.closed {
		panic("gc: collection requested by a closed mutator")
	}
	om.safepoint.StopTheWorld()
}

func (om *ObjectMemory) resumeTheWorld() {
	om.safepoint.ResumeTheWorld()
}

// CollectYoung requests a young collection and runs it now if collections
// are allowed.
func (om *ObjectMemory) CollectYoung(m *Mutator) {
	om.collectYoungNow.Store(true)
	om.CollectMaybe(m)
}

// CollectMature requests a mature collection and runs it now if
// collections are allowed. In concurrent mode this only starts the cycle;
// it is finished by a later CollectMaybe once the marker is done.
func (om *ObjectMemory) CollectMature(m *Mutator) {
	om.collectMatureNow.Store(true)
	om.CollectMaybe(m)
}

// CollectFull runs a young collection and a complete mature collection,
// finishing a concurrent cycle that is in progress first. The concurrent
// marker is not used for the new cycle.
func (om *ObjectMemory) CollectFull(m *Mutator) {
	if !om.CanGC() {
		return
	}
	om.stopTheWorld(m)
	defer om.resumeTheWorld()

	start := time.Now()
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()
	data := om.gcData()
	om.collectYoungNow.Store(false)
	om.collectYoung(data)
	if om.matureGCInProgress.Load() {
		om.collectMatureFinishNow.Store(false)
		om.collectMatureFinish(data)
	}
	om.collectMature(data, false)
	om.stats.recordPause(start)
}

// WaitForMarker runs Checkpoint on m until the concurrent mature cycle in
// progress has finished.
func (om *ObjectMemory) WaitForMarker(m *Mutator) {
	for om.CanGC() && om.matureGCInProgress.Load() {
		m.Checkpoint()
		if om.matureGCInProgress.Load() {
			m.Blocking(func() { time.Sleep(100 * time.Microsecond) })
		}
	}
}
