package memory

import (
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/objectmemory/oop"
)

// FinalizerFunc is a native finalizer. It receives the dead object with all
// of its reference slots cleared.
type FinalizerFunc func(obj *oop.Object)

// FinalizeKind distinguishes finalizers registered by the runtime itself
// from finalizers registered by managed code.
type FinalizeKind uint8

const (
	FinalizeNative FinalizeKind = iota
	FinalizeManaged
)

type finalizerRecord struct {
	object *oop.Object
	fn     FinalizerFunc
	kind   FinalizeKind

	// Managed finalizer object. It is a root while the record exists.
	finalizer oop.Value
}

// FinalizeWork is one finalizer that is due. It is produced by the
// collector and run by the finalizer thread.
type FinalizeWork struct {
	q *finalizerQueue

	// Object is the dead object. It has been detached from the heap: its
	// reference slots are cleared and it belongs to no space, so running
	// the finalizer cannot make other dead objects reachable.
	Object *oop.Object
	Kind   FinalizeKind

	fn        FinalizerFunc
	finalizer oop.Value
	ran       atomic.Bool
}

// Finalizer returns the managed finalizer object, or nil.
func (w *FinalizeWork) Finalizer() *oop.Object {
	return w.finalizer.Object()
}

// Run runs the finalizer once. call is used for a managed finalizer object;
// it may be nil when only native finalizers are registered. Run must be
// called by a Mutator. It reports whether this call ran the finalizer.
func (w *FinalizeWork) Run(m *Mutator, call func(m *Mutator, finalizer, obj *oop.Object)) bool {
	if !w.ran.CompareAndSwap(false, true) {
		return false
	}
	if w.fn != nil {
		w.fn(w.Object)
	}
	if f := w.finalizer.Object(); f != nil && call != nil {
		call(m, f, w.Object)
	}
	w.q.done(w)
	return true
}

// finalizerQueue holds the finalizer records of live objects and the work
// produced for dead ones.
type finalizerQueue struct {
	mu      sync.Mutex
	records []*finalizerRecord
	byObj   map[*oop.Object]*finalizerRecord

	// Work not yet handed to the finalizer thread, and work handed out but
	// not yet run. The finalizer objects of both stay roots.
	pending []*FinalizeWork
	running map[*FinalizeWork]struct{}

	finalized atomic.Uint64
}

func newFinalizerQueue() *finalizerQueue {
	return &finalizerQueue{
		byObj:   make(map[*oop.Object]*finalizerRecord),
		running: make(map[*FinalizeWork]struct{}),
	}
}

func (q *finalizerQueue) record(obj *oop.Object) *finalizerRecord {
	rec := q.byObj[obj]
	if rec == nil {
		rec = &finalizerRecord{object: obj}
		q.records = append(q.records, rec)
		q.byObj[obj] = rec
	}
	return rec
}

// NeedsFinalization registers fn to run when obj dies. Registering again
// replaces the function.
func (om *ObjectMemory) NeedsFinalization(obj *oop.Object, fn FinalizerFunc, kind FinalizeKind) {
	q := om.finalizer
	q.mu.Lock()
	defer q.mu.Unlock()
	rec := q.record(obj)
	rec.fn = fn
	rec.kind = kind
	obj.SetNeedsFinalization(true)
}

// SetFinalizer registers a managed finalizer object for obj. Passing nil
// removes a managed finalizer; the record goes away when no native
// finalizer is left either.
func (om *ObjectMemory) SetFinalizer(obj, finalizer *oop.Object) {
	q := om.finalizer
	q.mu.Lock()
	defer q.mu.Unlock()
	if finalizer == nil {
		rec := q.byObj[obj]
		if rec == nil {
			return
		}
		rec.finalizer = oop.Nil
		if rec.fn == nil {
			q.drop(rec)
			obj.SetNeedsFinalization(false)
		}
		return
	}
	rec := q.record(obj)
	rec.finalizer = oop.Ref(finalizer)
	rec.kind = FinalizeManaged
	obj.SetNeedsFinalization(true)
}

func (q *finalizerQueue) drop(rec *finalizerRecord) {
	delete(q.byObj, rec.object)
	for i, r := range q.records {
		if r == rec {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return
		}
	}
}

// PendingFinalizers hands the due finalizers to the finalizer thread.
func (om *ObjectMemory) PendingFinalizers() []*FinalizeWork {
	q := om.finalizer
	q.mu.Lock()
	defer q.mu.Unlock()
	work := q.pending
	q.pending = nil
	for _, w := range work {
		q.running[w] = struct{}{}
	}
	return work
}

// Finalizers returns the number of registered and of due finalizers.
func (om *ObjectMemory) Finalizers() (registered, due int) {
	q := om.finalizer
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records), len(q.pending) + len(q.running)
}

func (q *finalizerQueue) done(w *FinalizeWork) {
	q.mu.Lock()
	delete(q.running, w)
	q.mu.Unlock()
	q.finalized.Add(1)
}

// appendRoots adds the managed finalizer slots.
func (q *finalizerQueue) appendRoots(slots []*oop.Value) []*oop.Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range q.records {
		if rec.finalizer.IsReference() {
			slots = append(slots, &rec.finalizer)
		}
	}
	for _, w := range q.pending {
		if w.finalizer.IsReference() {
			slots = append(slots, &w.finalizer)
		}
	}
	for w := range q.running {
		if w.finalizer.IsReference() {
			slots = append(slots, &w.finalizer)
		}
	}
	return slots
}

// sweep queues the work for every record whose object is dead and updates
// the others with live. It runs with the world stopped.
func (q *finalizerQueue) sweep(dead func(*oop.Object) bool, live func(*oop.Object) *oop.Object) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	queued := 0
	records := q.records[:0]
	clear(q.byObj)
	for _, rec := range q.records {
		if dead(rec.object) {
			rec.object.Detach()
			q.pending = append(q.pending, &FinalizeWork{
				q:         q,
				Object:    rec.object,
				Kind:      rec.kind,
				fn:        rec.fn,
				finalizer: rec.finalizer,
			})
			queued++
			continue
		}
		if live != nil {
			rec.object = live(rec.object)
		}
		records = append(records, rec)
		q.byObj[rec.object] = rec
	}
	clear(q.records[len(records):])
	q.records = records
	return queued
}
