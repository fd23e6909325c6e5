// Package oop defines the layout of heap objects: tagged slot values, the
// packed object header, inflated headers and native handles.
//
// Every decision about how header state is encoded lives in this package so
// that relocation and mark alternation logic stay in one place.
package oop

import "sync/atomic"

// Address is a location in the simulated heap address space.
type Address uint64

const (
	// WordSize is the size of one slot.
	WordSize = 8

	// HeaderSize covers the header word and the class word.
	HeaderSize = 2 * WordSize

	// FixedSize is the smallest object: header, class and ivars.
	FixedSize = HeaderSize + WordSize
)

// Align rounds n up to a multiple of WordSize.
func Align(n uintptr) uintptr {
	return (n + WordSize - 1) &^ (WordSize - 1)
}

// SizeFor returns the allocation size of an object with the given number of
// reference fields and byte payload.
func SizeFor(fields, bytes int) uintptr {
	return Align(FixedSize + uintptr(fields)*WordSize + uintptr(bytes))
}

// FieldsFor returns how many reference fields fit in an object of size bytes.
func FieldsFor(size uintptr) int {
	if size <= FixedSize {
		return 0
	}
	return int((size - FixedSize) / WordSize)
}

// Immediate encodings. A fixnum has the low bit set, a symbol has the low
// three bits set to 0b110 and the remaining special constants use 0b010.
const (
	tagFixnum    = 0b1
	tagSymbol    = 0b110
	tagSymbolMsk = 0b111
	immFalse     = 0b0010
	immTrue      = 0b1010
	immUndef     = 0b10010
)

// Value is the content of a slot: an immediate or a reference to a heap
// object. The zero Value is nil.
type Value struct {
	obj *Object
	imm uint64
}

var (
	Nil   = Value{}
	True  = Value{imm: immTrue}
	False = Value{imm: immFalse}
	Undef = Value{imm: immUndef}
)

// Ref returns a reference to obj, or Nil when obj is nil.
func Ref(obj *Object) Value {
	return Value{obj: obj}
}

// Fixnum returns a small integer immediate.
func Fixnum(n int64) Value {
	return Value{imm: uint64(n)<<1 | tagFixnum}
}

// Symbol returns an interned symbol immediate.
func Symbol(id uint32) Value {
	return Value{imm: uint64(id)<<3 | tagSymbol}
}

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// IsReference reports whether v refers to a heap object.
func (v Value) IsReference() bool { return v.obj != nil }

// IsImmediate reports whether v needs no tracking by the collector.
func (v Value) IsImmediate() bool { return v.obj == nil }

func (v Value) IsNil() bool { return v.obj == nil && v.imm == 0 }

func (v Value) IsFixnum() bool { return v.obj == nil && v.imm&tagFixnum != 0 }

func (v Value) IsSymbol() bool { return v.obj == nil && v.imm&tagSymbolMsk == tagSymbol }

// Object returns the referenced object or nil for immediates.
func (v Value) Object() *Object { return v.obj }

// FixnumValue returns the integer of a fixnum immediate.
func (v Value) FixnumValue() int64 { return int64(v.imm) >> 1 }

// SymbolID returns the id of a symbol immediate.
func (v Value) SymbolID() uint32 { return uint32(v.imm >> 3) }

// slot is a reference field. The concurrent marker loads slots while
// mutators store to them, so both halves are atomic. A non-nil ref always
// wins over imm; writers clear the other half first so a reader never sees a
// reference that was not stored.
type slot struct {
	ref atomic.Pointer[Object]
	imm atomic.Uint64
}

func (s *slot) load() Value {
	if p := s.ref.Load(); p != nil {
		return Value{obj: p}
	}
	return Value{imm: s.imm.Load()}
}

func (s *slot) store(v Value) {
	if v.obj != nil {
		s.imm.Store(0)
		s.ref.Store(v.obj)
		return
	}
	s.ref.Store(nil)
	s.imm.Store(v.imm)
}
