package oop

import "sync/atomic"

// Handle is a stable reference to an object given out past the native
// boundary. The collector keeps it pointing at the current copy of the
// object, or invalidates it when the object dies.
type Handle struct {
	object atomic.Pointer[Object]
	refs   atomic.Int64
	valid  atomic.Bool
	cached atomic.Bool

	// Zone of the object when the handle was created or last moved between
	// handle lists. Written only at a safepoint.
	generation Zone
	id         uint64
}

// NewHandle returns a valid handle to obj with no references.
func NewHandle(id uint64, obj *Object) *Handle {
	h := &Handle{generation: obj.Zone(), id: id}
	h.object.Store(obj)
	h.valid.Store(true)
	return h
}

func (h *Handle) ID() uint64 { return h.id }

// Object returns the current copy of the object, or nil once invalid.
func (h *Handle) Object() *Object {
	if !h.valid.Load() {
		return nil
	}
	return h.object.Load()
}

// Valid reports whether the object is still alive.
func (h *Handle) Valid() bool { return h.valid.Load() }

// Generation returns the zone recorded for the handle.
func (h *Handle) Generation() Zone { return h.generation }

// Ref adds a native reference. A handle with references is a root.
func (h *Handle) Ref() { h.refs.Add(1) }

// Deref drops a native reference and returns the remaining count.
func (h *Handle) Deref() int64 {
	n := h.refs.Add(-1)
	if gcAsserts && n < 0 {
		panic("gc: handle dereferenced more often than referenced")
	}
	return n
}

func (h *Handle) Refs() int64 { return h.refs.Load() }

// Cached reports whether the handle was moved to the cached list.
func (h *Handle) Cached() bool { return h.cached.Load() }

// SetCached marks the handle as cached. It reports whether it was not
// cached before.
func (h *Handle) SetCached() bool { return h.cached.CompareAndSwap(false, true) }

// Update points the handle at the new copy of its object.
func (h *Handle) Update(obj *Object) {
	h.object.Store(obj)
	h.generation = obj.Zone()
}

// Invalidate marks the handle dead. Object returns nil afterwards.
func (h *Handle) Invalidate() {
	h.valid.Store(false)
	h.object.Store(nil)
}
