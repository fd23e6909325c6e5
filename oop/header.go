package oop

import "sync/atomic"

// Zone identifies the heap space that owns an object.
type Zone uint8

const (
	UnspecifiedZone Zone = iota
	YoungZone
	MatureZone
	LargeZone
)

// String returns a human-readable version of the zone, for debugging.
func (z Zone) String() string {
	switch z {
	case UnspecifiedZone:
		return "unspecified"
	case YoungZone:
		return "young"
	case MatureZone:
		return "mature"
	case LargeZone:
		return "large"
	default:
		// must never happen
		return "!err"
	}
}

// TypeTag is the object type stored in the header.
type TypeTag uint8

const (
	ObjectType TypeTag = iota
	ClassType
	ModuleType
	TupleType
	ByteArrayType
	StringType
	CompiledCodeType
	DataType
	LastObjectType
)

// Header word layout (low to high):
//
//	bits  0-7   type tag
//	bits  8-9   zone
//	bits 10-12  mark value
//	bit  13     pinned
//	bit  14     inflated
//	bit  15     remembered
//	bit  16     forwarded
//	bit  17     needs finalization
//	bits 20-23  age (young collections survived)
//	bits 32-47  thin lock owner (0 = unlocked)
//	bits 48-55  thin lock count
const (
	typeShift = 0
	typeMask  = 1<<8 - 1

	zoneShift = 8
	zoneMask  = 1<<2 - 1

	markShift = 10
	markMask  = 1<<3 - 1

	pinnedBit     = 1 << 13
	inflatedBit   = 1 << 14
	rememberedBit = 1 << 15
	forwardedBit  = 1 << 16
	finalizeBit   = 1 << 17

	ageShift = 20
	ageBits  = 4
	ageMask  = 1<<ageBits - 1

	lockOwnerShift = 32
	lockOwnerMask  = 1<<16 - 1

	lockCountShift = 48
	lockCountBits  = 8
	lockCountMask  = 1<<lockCountBits - 1
)

const (
	// MaxAge is the largest age the header can record.
	MaxAge = ageMask

	// MaxThinLockCount is the deepest recursive thin lock the header can
	// encode. Deeper locking moves the count into the inflated header.
	MaxThinLockCount = lockCountMask

	// MaxThinLockOwner is the largest thread id a thin lock can record.
	MaxThinLockOwner = lockOwnerMask
)

// Mark values alternate between these two so that "marked in this cycle" is
// a comparison and no unmark pass is needed.
const (
	MarkA uint8 = 2
	MarkB uint8 = 4
)

// NextMark returns the mark value for the cycle after mark.
func NextMark(mark uint8) uint8 {
	if mark == MarkA {
		return MarkB
	}
	return MarkA
}

// HeaderWord is a snapshot of an object header.
type HeaderWord uint64

func (w HeaderWord) Type() TypeTag { return TypeTag(w >> typeShift & typeMask) }
func (w HeaderWord) Zone() Zone    { return Zone(w >> zoneShift & zoneMask) }
func (w HeaderWord) Mark() uint8   { return uint8(w >> markShift & markMask) }
func (w HeaderWord) Age() int      { return int(w >> ageShift & ageMask) }

func (w HeaderWord) Pinned() bool            { return w&pinnedBit != 0 }
func (w HeaderWord) Inflated() bool          { return w&inflatedBit != 0 }
func (w HeaderWord) Remembered() bool        { return w&rememberedBit != 0 }
func (w HeaderWord) Forwarded() bool         { return w&forwardedBit != 0 }
func (w HeaderWord) NeedsFinalization() bool { return w&finalizeBit != 0 }

// LockOwner returns the thread id holding the thin lock, or 0.
func (w HeaderWord) LockOwner() uint32 { return uint32(w >> lockOwnerShift & lockOwnerMask) }

// LockCount returns the recursion depth of the thin lock.
func (w HeaderWord) LockCount() int { return int(w >> lockCountShift & lockCountMask) }

func (w HeaderWord) WithType(t TypeTag) HeaderWord {
	return w&^(typeMask<<typeShift) | HeaderWord(t)<<typeShift
}

func (w HeaderWord) WithZone(z Zone) HeaderWord {
	return w&^(zoneMask<<zoneShift) | HeaderWord(z)<<zoneShift
}

func (w HeaderWord) WithMark(mark uint8) HeaderWord {
	return w&^(markMask<<markShift) | HeaderWord(mark&markMask)<<markShift
}

func (w HeaderWord) WithAge(age int) HeaderWord {
	if age > MaxAge {
		age = MaxAge
	}
	return w&^(ageMask<<ageShift) | HeaderWord(age)<<ageShift
}

// WithThinLock returns w with the thin lock set to owner and count. The
// caller must check count against MaxThinLockCount first.
func (w HeaderWord) WithThinLock(owner uint32, count int) HeaderWord {
	if gcAsserts && (count > MaxThinLockCount || owner > MaxThinLockOwner) {
		panic("gc: thin lock state out of range")
	}
	w &^= lockOwnerMask<<lockOwnerShift | lockCountMask<<lockCountShift
	return w | HeaderWord(owner)<<lockOwnerShift | HeaderWord(count)<<lockCountShift
}

func (w HeaderWord) with(bit HeaderWord, set bool) HeaderWord {
	if set {
		return w | bit
	}
	return w &^ bit
}

func (w HeaderWord) WithPinned(set bool) HeaderWord            { return w.with(pinnedBit, set) }
func (w HeaderWord) WithInflated(set bool) HeaderWord          { return w.with(inflatedBit, set) }
func (w HeaderWord) WithRemembered(set bool) HeaderWord        { return w.with(rememberedBit, set) }
func (w HeaderWord) WithForwarded(set bool) HeaderWord         { return w.with(forwardedBit, set) }
func (w HeaderWord) WithNeedsFinalization(set bool) HeaderWord { return w.with(finalizeBit, set) }

// InitHeader returns the header of a freshly allocated object.
func InitHeader(zone Zone, t TypeTag) HeaderWord {
	return HeaderWord(0).WithZone(zone).WithType(t)
}

// Header is the atomically updated header word of an object. Mutators, the
// concurrent marker and the inflation subsystem all update it with
// compare-and-swap so no bit set by one of them is lost.
type Header struct {
	word atomic.Uint64
}

func (h *Header) Load() HeaderWord {
	return HeaderWord(h.word.Load())
}

func (h *Header) Store(w HeaderWord) {
	h.word.Store(uint64(w))
}

func (h *Header) CompareAndSwap(old, next HeaderWord) bool {
	return h.word.CompareAndSwap(uint64(old), uint64(next))
}

// Update applies fn until the swap succeeds. fn returns false to leave the
// header alone. It returns the word that was replaced and whether a swap
// happened.
func (h *Header) Update(fn func(HeaderWord) (HeaderWord, bool)) (HeaderWord, bool) {
	for {
		old := h.Load()
		next, ok := fn(old)
		if !ok {
			return old, false
		}
		if h.CompareAndSwap(old, next) {
			return old, true
		}
	}
}
