package memory

import (
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/objectmemory/oop"
)

// Marker is the mature generation marker. In concurrent mode it runs on
// its own goroutine while the mutators keep going.
//
// An object is marked when it is pushed, so the stack only holds objects
// that are marked but not yet scanned. The marker holds mu while it scans a
// batch; a young collection takes mu to pause the marker before it moves
// objects the marker may be looking at. Mutators never touch the stack;
// values reported by the write barrier go through the snoop buffer.
type Marker struct {
	om    *ObjectMemory
	batch int

	mu    sync.Mutex
	stack []*oop.Object
	mark  uint8
	data  *GCData

	snoopLock sync.Mutex
	snooped   []*oop.Object

	// Mature and large objects allocated during the cycle. They are
	// allocated marked and scanned when the cycle finishes. Protected by
	// the allocation lock.
	allocated []*oop.Object

	stop    chan struct{}
	done    chan struct{}
	running bool

	scanned atomic.Uint64
}

func newMarker(om *ObjectMemory, batch int) *Marker {
	return &Marker{om: om, batch: batch}
}

// start begins a cycle with mark from the roots in data. It runs at a
// safepoint.
func (mk *Marker) start(data *GCData, mark uint8) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	if gcAsserts && mk.data != nil {
		panic("gc: marker started twice")
	}
	mk.data = data
	mk.mark = mark
	mk.scanned.Store(0)
	data.eachRoot(mk.push)
}

// push marks obj and queues it for scanning if it was not marked yet.
func (mk *Marker) push(obj *oop.Object) {
	if obj != nil && obj.SetMarked(mk.mark) {
		mk.stack = append(mk.stack, obj)
	}
}

// Snoop reports a value stored while the cycle is in progress. It is called
// by the write barrier from any mutator.
func (mk *Marker) Snoop(obj *oop.Object) {
	mk.snoopLock.Lock()
	if obj.SetMarked(mk.mark) {
		mk.snooped = append(mk.snooped, obj)
	}
	mk.snoopLock.Unlock()
}

// takeSnooped moves the snooped objects onto the stack.
func (mk *Marker) takeSnooped() {
	mk.snoopLock.Lock()
	mk.stack = append(mk.stack, mk.snooped...)
	clear(mk.snooped)
	mk.snooped = mk.snooped[:0]
	mk.snoopLock.Unlock()
}

// step scans up to n objects. It reports whether the stack and the snoop
// buffer are empty. mu must be held.
func (mk *Marker) step(n int) bool {
	mk.takeSnooped()
	for i := 0; i < n && len(mk.stack) > 0; i++ {
		obj := mk.stack[len(mk.stack)-1]
		mk.stack[len(mk.stack)-1] = nil
		mk.stack = mk.stack[:len(mk.stack)-1]
		obj.EachReference(mk.push)
		mk.scanned.Add(1)
	}
	if len(mk.stack) > 0 {
		return false
	}
	mk.snoopLock.Lock()
	empty := len(mk.snooped) == 0
	mk.snoopLock.Unlock()
	return empty
}

// drain scans until there is no work left. mu must be held.
func (mk *Marker) drain() {
	for !mk.step(mk.batch) {
	}
}

// run is the concurrent marker goroutine. When it runs out of work it asks
// for the cycle to be finished at the next safepoint and exits; values
// snooped after that are picked up by the finish.
func (mk *Marker) run() {
	defer close(mk.done)
	for {
		select {
		case <-mk.stop:
			return
		default:
		}
		mk.mu.Lock()
		empty := mk.step(mk.batch)
		mk.mu.Unlock()
		if empty {
			mk.om.collectMatureFinishNow.Store(true)
			return
		}
	}
}

// startConcurrent launches the marker goroutine.
func (mk *Marker) startConcurrent() {
	mk.stop = make(chan struct{})
	mk.done = make(chan struct{})
	mk.running = true
	go mk.run()
}

// Pause blocks the marker between two batches.
func (mk *Marker) Pause() {
	mk.mu.Lock()
}

// Resume lets a paused marker continue.
func (mk *Marker) Resume() {
	mk.mu.Unlock()
}

// Stop ends the marker goroutine and waits for it.
func (mk *Marker) Stop() {
	if !mk.running {
		return
	}
	close(mk.stop)
	<-mk.done
	mk.running = false
}

// finish completes the cycle at a safepoint: it rescans the roots in
// rescan, scans the objects allocated during the cycle and drains all
// remaining work. It returns the data the cycle was started with.
func (mk *Marker) finish(rescan *GCData) *GCData {
	mk.Stop()
	mk.mu.Lock()
	defer mk.mu.Unlock()
	rescan.eachRoot(mk.push)
	// Already marked when they were allocated.
	mk.stack = append(mk.stack, mk.allocated...)
	mk.allocated = nil
	mk.drain()
	data := mk.data
	mk.data = nil
	return data
}

// forward updates the marker's work after a young collection moved
// objects. mu must be held.
func (mk *Marker) forward(fn func(*oop.Object) *oop.Object) {
	for i, obj := range mk.stack {
		mk.stack[i] = fn(obj)
	}
	mk.snoopLock.Lock()
	for i, obj := range mk.snooped {
		mk.snooped[i] = fn(obj)
	}
	mk.snoopLock.Unlock()
}

// Scanned returns the number of objects scanned in the current cycle.
func (mk *Marker) Scanned() uint64 {
	return mk.scanned.Load()
}
