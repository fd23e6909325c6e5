package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// immixSpace is the mature generation: a set of regions that objects are
// bump allocated into and that are swept in place. Objects in it never move.
type immixSpace struct {
	pool *regionPool

	regions    map[*region]struct{}
	recyclable []*region
	current    *region

	objects int
	bytes   uintptr
}

func newImmixSpace(pool *regionPool) *immixSpace {
	return &immixSpace{
		pool:    pool,
		regions: make(map[*region]struct{}),
	}
}

// allocate finds room for size bytes: in the current region, then in a
// region with holes left by the last sweep, then in a fresh region.
func (s *immixSpace) allocate(size uintptr) (oop.Address, bool) {
	for {
		if s.current != nil {
			if addr, ok := s.current.allocate(size); ok {
				return addr, true
			}
		}
		if n := len(s.recyclable); n > 0 {
			s.current = s.recyclable[n-1]
			s.recyclable = s.recyclable[:n-1]
			continue
		}
		r := s.pool.acquire(regionMature)
		if r == nil {
			return 0, false
		}
		s.regions[r] = struct{}{}
		s.current = r
	}
}

// add records obj, which was allocated at an address returned by allocate.
func (s *immixSpace) add(obj *oop.Object) {
	r := s.pool.regionOf(obj.Address())
	if gcAsserts && (r == nil || r.owner != regionMature) {
		panic("gc: mature object outside of a mature region")
	}
	r.objects = append(r.objects, obj)
	r.live += obj.Size()
	s.objects++
	s.bytes += obj.Size()
}

// contains reports whether obj is a live object of this space.
func (s *immixSpace) contains(obj *oop.Object) bool {
	r := s.pool.regionOf(obj.Address())
	if r == nil || r.owner != regionMature {
		return false
	}
	for _, o := range r.objects {
		if o == obj {
			return true
		}
	}
	return false
}

// each calls fn for every object of the space.
func (s *immixSpace) each(fn func(*oop.Object)) {
	for r := range s.regions {
		for _, obj := range r.objects {
			fn(obj)
		}
	}
}

// sweep frees every object that does not carry mark. dead is called for
// each freed object before it is retired. Regions left empty go back to the
// pool; regions with free lines become recyclable.
func (s *immixSpace) sweep(mark uint8, dead func(*oop.Object)) (objects int, bytes uintptr) {
	s.current = nil
	s.recyclable = s.recyclable[:0]
	for r := range s.regions {
		survivors := r.objects[:0]
		for i := range r.lines {
			r.lines[i] = false
		}
		r.live = 0
		for _, obj := range r.objects {
			if obj.Marked(mark) {
				survivors = append(survivors, obj)
				r.markLines(obj.Address(), obj.Size())
				r.live += obj.Size()
				continue
			}
			if dead != nil {
				dead(obj)
			}
			obj.Retire()
			objects++
			bytes += obj.Size()
		}
		for i := len(survivors); i < len(r.objects); i++ {
			r.objects[i] = nil
		}
		r.objects = survivors

		if len(survivors) == 0 {
			delete(s.regions, r)
			s.pool.release(r)
			continue
		}
		if r.freeLines() > 0 {
			r.cursor, r.limit = r.base, r.base
			s.recyclable = append(s.recyclable, r)
		} else {
			r.cursor, r.limit = r.end(), r.end()
		}
	}
	s.objects -= objects
	s.bytes -= bytes
	return objects, bytes
}
