package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// Immix regions.
//
// The nursery and the mature generation share one pool of fixed-size
// regions. A region is owned by at most one of them at a time. Every region
// is divided into lines; after a mature sweep the lines that hold no live
// object form holes that later allocations bump through, so partially free
// regions are reused without moving the objects that are left in them.

// immixBase is the address of the first region. Address 0 is never a valid
// object address.
const immixBase oop.Address = 0x1000_0000

type regionOwner uint8

const (
	regionFree regionOwner = iota
	regionYoung
	regionMature
)

func (o regionOwner) String() string {
	switch o {
	case regionFree:
		return "free"
	case regionYoung:
		return "young"
	case regionMature:
		return "mature"
	default:
		return "!err"
	}
}

type region struct {
	index int
	base  oop.Address
	size  uintptr
	owner regionOwner

	// Current bump window. cursor == limit means the window is used up and
	// the next allocation searches for the next hole.
	cursor oop.Address
	limit  oop.Address

	// lines[i] is true when line i held a live object at the last sweep.
	lineSize uintptr
	lines    []bool

	// Mature objects in this region. Young regions leave this empty; their
	// objects are tracked by the nursery and the mutators.
	objects []*oop.Object
	live    uintptr

	// Set on young regions while a young collection copies out of them.
	evacuating bool
}

func (r *region) end() oop.Address {
	return r.base + oop.Address(r.size)
}

func (r *region) contains(addr oop.Address) bool {
	return addr >= r.base && addr < r.end()
}

// reset prepares a region for a new owner.
func (r *region) reset(owner regionOwner) {
	r.owner = owner
	r.cursor = r.base
	r.limit = r.end()
	for i := range r.lines {
		r.lines[i] = false
	}
	r.objects = nil
	r.live = 0
	r.evacuating = false
}

// allocate bumps size bytes out of the current window, moving to the next
// hole when the window is too small.
func (r *region) allocate(size uintptr) (oop.Address, bool) {
	for {
		if uintptr(r.limit-r.cursor) >= size {
			addr := r.cursor
			r.cursor += oop.Address(size)
			return addr, true
		}
		if !r.nextHole() {
			return 0, false
		}
	}
}

// nextHole moves the window to the next run of free lines at or after the
// current limit.
func (r *region) nextHole() bool {
	n := len(r.lines)
	i := int(uintptr(r.limit-r.base) / r.lineSize)
	for i < n && r.lines[i] {
		i++
	}
	if i >= n {
		r.cursor, r.limit = r.end(), r.end()
		return false
	}
	j := i
	for j < n && !r.lines[j] {
		j++
	}
	r.cursor = r.base + oop.Address(uintptr(i)*r.lineSize)
	r.limit = r.base + oop.Address(uintptr(j)*r.lineSize)
	return true
}

// markLines records the lines covered by [addr, addr+size) as used.
func (r *region) markLines(addr oop.Address, size uintptr) {
	first := uintptr(addr-r.base) / r.lineSize
	last := (uintptr(addr-r.base) + size - 1) / r.lineSize
	for i := first; i <= last; i++ {
		r.lines[i] = true
	}
}

// freeLines returns the number of lines available for hole allocation.
func (r *region) freeLines() int {
	free := 0
	for _, used := range r.lines {
		if !used {
			free++
		}
	}
	return free
}

// regionPool hands out regions to the nursery and the mature generation.
// It is only used with the allocation lock held or with the world stopped.
type regionPool struct {
	regions    []*region
	free       []*region
	regionSize uintptr
}

func newRegionPool(total, regionSize, lineSize uintptr) *regionPool {
	n := int(total / regionSize)
	p := &regionPool{
		regions:    make([]*region, n),
		free:       make([]*region, 0, n),
		regionSize: regionSize,
	}
	for i := range p.regions {
		r := &region{
			index:    i,
			base:     immixBase + oop.Address(uintptr(i)*regionSize),
			size:     regionSize,
			lineSize: lineSize,
			lines:    make([]bool, regionSize/lineSize),
		}
		p.regions[i] = r
	}
	// Hand out low addresses first.
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, p.regions[i])
	}
	return p
}

// acquire takes a free region, or returns nil when the pool is empty.
func (p *regionPool) acquire(owner regionOwner) *region {
	if len(p.free) == 0 {
		return nil
	}
	r := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	r.reset(owner)
	return r
}

func (p *regionPool) release(r *region) {
	if gcAsserts && r.owner == regionFree {
		panic("gc: releasing a free region")
	}
	r.reset(regionFree)
	p.free = append(p.free, r)
}

// regionOf returns the region containing addr, or nil.
func (p *regionPool) regionOf(addr oop.Address) *region {
	if addr < immixBase {
		return nil
	}
	i := uintptr(addr-immixBase) / p.regionSize
	if i >= uintptr(len(p.regions)) {
		return nil
	}
	return p.regions[i]
}

func (p *regionPool) freeRegions() int {
	return len(p.free)
}

// end returns the first address after the pool.
func (p *regionPool) end() oop.Address {
	return immixBase + oop.Address(uintptr(len(p.regions))*p.regionSize)
}
