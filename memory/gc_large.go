package memory

import (
	"slices"

	"github.com/tinygo-org/objectmemory/oop"
)

// largeBlockSize is the allocation granularity of the large object space.
const largeBlockSize = 1024

// largeObjectSpace holds objects above the large object threshold. Objects
// are allocated from a free range list over the space's own address range,
// never move, and are reclaimed by mark-sweep.
type largeObjectSpace struct {
	base    oop.Address
	blocks  uintptr
	free    freeRanges
	objects map[oop.Address]*oop.Object
	bytes   uintptr
}

func newLargeObjectSpace(base oop.Address, size uintptr) *largeObjectSpace {
	s := &largeObjectSpace{
		base:    base,
		blocks:  size / largeBlockSize,
		free:    freeRanges{blockSize: largeBlockSize},
		objects: make(map[oop.Address]*oop.Object),
	}
	s.buildFreeRanges()
	return s
}

func (s *largeObjectSpace) end() oop.Address {
	return s.base + oop.Address(s.blocks*largeBlockSize)
}

func blocksFor(size uintptr) uintptr {
	return (size + largeBlockSize - 1) / largeBlockSize
}

// allocate returns the address of a free range of at least size bytes.
func (s *largeObjectSpace) allocate(size uintptr) (oop.Address, bool) {
	return s.free.pop(blocksFor(size))
}

func (s *largeObjectSpace) add(obj *oop.Object) {
	s.objects[obj.Address()] = obj
	s.bytes += obj.Size()
}

func (s *largeObjectSpace) contains(obj *oop.Object) bool {
	return s.objects[obj.Address()] == obj
}

func (s *largeObjectSpace) each(fn func(*oop.Object)) {
	for _, obj := range s.objects {
		fn(obj)
	}
}

// sweep frees every object that does not carry mark and rebuilds the free
// ranges.
func (s *largeObjectSpace) sweep(mark uint8, dead func(*oop.Object)) (objects int, bytes uintptr) {
	for addr, obj := range s.objects {
		if obj.Marked(mark) {
			continue
		}
		if dead != nil {
			dead(obj)
		}
		delete(s.objects, addr)
		obj.Retire()
		objects++
		bytes += obj.Size()
	}
	s.bytes -= bytes
	s.buildFreeRanges()
	return objects, bytes
}

// buildFreeRanges rebuilds the free list from the gaps between live objects.
// It returns how many bytes are free.
func (s *largeObjectSpace) buildFreeRanges() uintptr {
	s.free.reset()
	live := make([]*oop.Object, 0, len(s.objects))
	for _, obj := range s.objects {
		live = append(live, obj)
	}
	slices.SortFunc(live, func(a, b *oop.Object) int {
		switch {
		case a.Address() < b.Address():
			return -1
		case a.Address() > b.Address():
			return 1
		}
		return 0
	})

	var freeBlocks uintptr
	block := uintptr(0)
	for _, obj := range live {
		start := uintptr(obj.Address()-s.base) / largeBlockSize
		if start > block {
			s.free.insert(s.base+oop.Address(block*largeBlockSize), start-block)
			freeBlocks += start - block
		}
		block = start + blocksFor(obj.Size())
	}
	if block < s.blocks {
		s.free.insert(s.base+oop.Address(block*largeBlockSize), s.blocks-block)
		freeBlocks += s.blocks - block
	}
	return freeBlocks * largeBlockSize
}

func (s *largeObjectSpace) freeBytes() uintptr {
	return s.free.totalBlocks() * largeBlockSize
}
