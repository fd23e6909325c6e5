package memory

import "github.com/tinygo-org/objectmemory/oop"

// Slab is a thread-local bump allocation buffer. It is owned by exactly one
// Mutator and is never locked.
type Slab struct {
	start  oop.Address
	cursor oop.Address
	limit  oop.Address
}

// Allocate returns the address of size bytes, or false when the request
// does not fit in what is left of the slab. An allocation never crosses the
// limit.
func (s *Slab) Allocate(size uintptr) (oop.Address, bool) {
	if uintptr(s.limit-s.cursor) < size {
		return 0, false
	}
	addr := s.cursor
	s.cursor += oop.Address(size)
	return addr, true
}

// Remaining returns the number of free bytes.
func (s *Slab) Remaining() uintptr {
	return uintptr(s.limit - s.cursor)
}

// Bounds returns the current slab range.
func (s *Slab) Bounds() (start, limit oop.Address) {
	return s.start, s.limit
}

func (s *Slab) refill(start oop.Address, size uintptr) {
	s.start = start
	s.cursor = start
	s.limit = start + oop.Address(size)
}

// reset empties the slab. The rest of it is abandoned.
func (s *Slab) reset() {
	s.start, s.cursor, s.limit = 0, 0, 0
}
