package memory

import "github.com/tinygo-org/objectmemory/oop"

// freeRanges tracks free runs of blocks, grouped by run length. Buckets are
// sorted by length, shortest first, and each bucket chains the runs of its
// length. Finding a run costs one step per distinct shorter length.
type freeRanges struct {
	head      *lengthBucket
	blockSize uintptr
}

type lengthBucket struct {
	blocks uintptr
	first  oop.Address
	rest   *extraRange
	longer *lengthBucket
}

type extraRange struct {
	addr oop.Address
	next *extraRange
}

// find returns the link to the first bucket with at least n blocks.
func (f *freeRanges) find(n uintptr) **lengthBucket {
	link := &f.head
	for *link != nil && (*link).blocks < n {
		link = &(*link).longer
	}
	return link
}

// insert records n free blocks at addr.
func (f *freeRanges) insert(addr oop.Address, n uintptr) {
	if gcAsserts && n == 0 {
		panic("gc: empty free range")
	}
	link := f.find(n)
	if b := *link; b != nil && b.blocks == n {
		b.rest = &extraRange{addr: addr, next: b.rest}
		return
	}
	*link = &lengthBucket{blocks: n, first: addr, longer: *link}
}

// pop takes n blocks from the shortest run that holds them. The tail of a
// longer run goes back into the list.
func (f *freeRanges) pop(n uintptr) (oop.Address, bool) {
	if gcAsserts && n == 0 {
		panic("gc: empty free range")
	}
	link := f.find(n)
	b := *link
	if b == nil {
		return 0, false
	}

	addr := b.first
	if b.rest != nil {
		addr = b.rest.addr
		b.rest = b.rest.next
	} else {
		*link = b.longer
	}
	if b.blocks > n {
		f.insert(addr+oop.Address(n*f.blockSize), b.blocks-n)
	}
	return addr, true
}

func (f *freeRanges) reset() {
	f.head = nil
}

// counts returns each run length with the number of runs of that length,
// shortest first.
func (f *freeRanges) counts() (lens, counts []uintptr) {
	for b := f.head; b != nil; b = b.longer {
		n := uintptr(1)
		for r := b.rest; r != nil; r = r.next {
			n++
		}
		lens = append(lens, b.blocks)
		counts = append(counts, n)
	}
	return lens, counts
}

func (f *freeRanges) totalBlocks() uintptr {
	var total uintptr
	lens, counts := f.counts()
	for i := range lens {
		total += lens[i] * counts[i]
	}
	return total
}
