package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// nursery is the young generation. It takes regions from the shared pool,
// up to maxRegions at a time for allocation and as many again as the
// to-space of a young collection. Mutators allocate from slabs carved out of
// the current region; objects too big for a slab are placed directly.
type nursery struct {
	pool       *regionPool
	maxRegions int

	regions []*region
	current *region

	// Objects placed directly and the survivors of the last young
	// collection. Slab allocations are tracked by their mutator.
	objects []*oop.Object
}

func newNursery(pool *regionPool, maxRegions int) *nursery {
	return &nursery{pool: pool, maxRegions: maxRegions}
}

// allocate returns size contiguous bytes, or false when the nursery budget
// is used up.
func (n *nursery) allocate(size uintptr) (oop.Address, bool) {
	for {
		if n.current != nil {
			if addr, ok := n.current.allocate(size); ok {
				return addr, true
			}
		}
		if len(n.regions) >= n.maxRegions {
			return 0, false
		}
		r := n.pool.acquire(regionYoung)
		if r == nil {
			return 0, false
		}
		n.regions = append(n.regions, r)
		n.current = r
	}
}

// beginCollection turns the current regions into the from-space and starts
// an empty to-space. It returns the from-space regions and the objects in
// them that the nursery tracked.
func (n *nursery) beginCollection() ([]*region, []*oop.Object) {
	from, objects := n.regions, n.objects
	for _, r := range from {
		r.evacuating = true
	}
	n.regions, n.current, n.objects = nil, nil, nil
	return from, objects
}

// endCollection returns the from-space regions to the pool.
func (n *nursery) endCollection(from []*region) {
	for _, r := range from {
		n.pool.release(r)
	}
}

// inFromSpace reports whether obj is a young object being evacuated.
func (n *nursery) inFromSpace(obj *oop.Object) bool {
	if !obj.IsYoung() {
		return false
	}
	r := n.pool.regionOf(obj.Address())
	return r != nil && r.evacuating
}

// contains reports whether obj is a young object in the current nursery.
func (n *nursery) contains(obj *oop.Object) bool {
	if !obj.IsYoung() || obj.Forwarded() {
		return false
	}
	r := n.pool.regionOf(obj.Address())
	return r != nil && r.owner == regionYoung && !r.evacuating && obj.Address() < r.cursor
}

func (n *nursery) capacity() uintptr {
	return uintptr(n.maxRegions) * n.pool.regionSize
}

func (n *nursery) used() uintptr {
	var used uintptr
	for _, r := range n.regions {
		used += uintptr(r.cursor - r.base)
	}
	return used
}
