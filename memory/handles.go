package memory

import (
	"sync"

	"github.com/tinygo-org/objectmemory/oop"
)

// handleLocation is where a global handle location was registered, for
// diagnostics.
type handleLocation struct {
	file string
	line int
}

// handleTable tracks the native handles. Handles to young objects are kept
// apart so a young collection only has to look at those.
type handleTable struct {
	mu      sync.Mutex
	young   map[*oop.Handle]struct{}
	mature  map[*oop.Handle]struct{}
	cached  []*oop.Handle
	globals map[**oop.Handle]handleLocation
	lastID  uint64
}

func newHandleTable() *handleTable {
	return &handleTable{
		young:   make(map[*oop.Handle]struct{}),
		mature:  make(map[*oop.Handle]struct{}),
		globals: make(map[**oop.Handle]handleLocation),
	}
}

func (t *handleTable) add(h *oop.Handle) {
	if h.Generation() == oop.YoungZone {
		t.young[h] = struct{}{}
	} else {
		t.mature[h] = struct{}{}
	}
}

func (t *handleTable) remove(h *oop.Handle) {
	delete(t.young, h)
	delete(t.mature, h)
	for i, c := range t.cached {
		if c == h {
			t.cached = append(t.cached[:i], t.cached[i+1:]...)
			break
		}
	}
}

// appendRoots adds the handles that keep their object alive: handles with
// native references, cached handles, and handles stored at a global
// location.
func (t *handleTable) appendRoots(roots []*oop.Handle) []*oop.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[*oop.Handle]bool)
	root := func(h *oop.Handle) {
		if h != nil && h.Valid() && !seen[h] {
			seen[h] = true
			roots = append(roots, h)
		}
	}
	for _, set := range []map[*oop.Handle]struct{}{t.young, t.mature} {
		for h := range set {
			if h.Refs() > 0 {
				root(h)
			}
		}
	}
	for _, h := range t.cached {
		root(h)
	}
	for loc := range t.globals {
		root(*loc)
	}
	return roots
}

// AddHandle returns the native handle of obj, creating it on first use.
// Every object has at most one handle.
func (om *ObjectMemory) AddHandle(obj *oop.Object) *oop.Handle {
	ih := om.InflateForHandle(obj)
	if h := ih.Handle(); h != nil {
		return h
	}
	t := om.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	h := oop.NewHandle(t.lastID, obj)
	if linked := ih.SetHandle(h); linked != h {
		return linked
	}
	t.add(h)
	return h
}

// DeleteHandle invalidates h and removes it from the table.
func (om *ObjectMemory) DeleteHandle(h *oop.Handle) {
	t := om.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	if obj := h.Object(); obj != nil {
		if ih := obj.Inflated(); ih != nil {
			ih.ClearHandle(h)
		}
	}
	t.remove(h)
	h.Invalidate()
}

// MakeHandleCached keeps h alive across native calls: a cached handle is a
// root until it is deleted.
func (om *ObjectMemory) MakeHandleCached(h *oop.Handle) {
	t := om.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.SetCached() {
		t.cached = append(t.cached, h)
	}
}

// AddGlobalHandleLocation registers a native variable that holds a handle.
// The handle stored there is a root.
func (om *ObjectMemory) AddGlobalHandleLocation(loc **oop.Handle, file string, line int) {
	t := om.handles
	t.mu.Lock()
	t.globals[loc] = handleLocation{file: file, line: line}
	t.mu.Unlock()
}

// DelGlobalHandleLocation unregisters loc.
func (om *ObjectMemory) DelGlobalHandleLocation(loc **oop.Handle) {
	t := om.handles
	t.mu.Lock()
	delete(t.globals, loc)
	t.mu.Unlock()
}

// GlobalHandleLocation returns where loc was registered.
func (om *ObjectMemory) GlobalHandleLocation(loc **oop.Handle) (file string, line int, ok bool) {
	t := om.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.globals[loc]
	return l.file, l.line, ok
}

// Handles returns the number of young and mature handles.
func (om *ObjectMemory) Handles() (young, mature int) {
	t := om.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.young), len(t.mature)
}

// pruneYoung runs at the end of a young collection. Handles whose object
// was copied follow it, moving to the mature list when it was promoted;
// handles whose object died are invalidated.
func (t *handleTable) pruneYoung(c *youngCollection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h := range t.young {
		obj := h.Object()
		switch {
		case obj == nil:
			t.remove(h)
			continue
		case c.om.young.inFromSpace(obj):
			if !obj.Forwarded() {
				t.remove(h)
				h.Invalidate()
				continue
			}
			h.Update(obj.Forward())
		default:
			h.Update(obj)
		}
		if h.Generation() != oop.YoungZone {
			delete(t.young, h)
			t.mature[h] = struct{}{}
		}
	}
}

// sweepMature invalidates the mature handles whose object was not marked.
func (t *handleTable) sweepMature(mark uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	freed := 0
	for h := range t.mature {
		obj := h.Object()
		if obj != nil && (obj.IsYoung() || obj.Marked(mark)) {
			continue
		}
		t.remove(h)
		h.Invalidate()
		freed++
	}
	return freed
}
