package oop

import "sync/atomic"

// gcAsserts enables the invariant checks that are too costly for the fast
// paths. Violations panic with a "gc:" message.
const gcAsserts = true

// WriteBarrier is implemented by the object memory. Every store into a
// reference slot of a published object goes through it.
type WriteBarrier interface {
	WriteBarrier(target *Object, value Value)
}

// Object is a heap object. The address, size and shape of an Object never
// change; relocation creates a new Object and leaves a forwarding pointer in
// the old one for the duration of the copy.
type Object struct {
	header Header
	addr   Address
	size   uintptr

	klass  slot
	ivars  slot
	fields []slot
	bytes  []byte

	// Set only while a young collection is copying this object.
	forward *Object

	// Weak link to the inflated header; the inflated header pool owns it.
	inflated atomic.Pointer[InflatedHeader]
}

// NewObject creates the object record for a fresh allocation. Reference
// fields start out nil and the ivars slot starts out nil.
func NewObject(addr Address, size uintptr, header HeaderWord, fields, bytes int) *Object {
	if gcAsserts && SizeFor(fields, bytes) > size {
		panic("gc: object shape does not fit its allocation")
	}
	obj := &Object{
		addr:   addr,
		size:   size,
		fields: make([]slot, fields),
	}
	if bytes > 0 {
		obj.bytes = make([]byte, bytes)
	}
	obj.header.Store(header)
	return obj
}

func (o *Object) Address() Address { return o.addr }
func (o *Object) Size() uintptr    { return o.size }

// Header returns the header for compare-and-swap updates.
func (o *Object) Header() *Header { return &o.header }

func (o *Object) Type() TypeTag { return o.header.Load().Type() }
func (o *Object) Zone() Zone    { return o.header.Load().Zone() }
func (o *Object) Age() int      { return o.header.Load().Age() }

func (o *Object) IsYoung() bool  { return o.Zone() == YoungZone }
func (o *Object) IsMature() bool { return o.Zone() == MatureZone }
func (o *Object) IsLarge() bool  { return o.Zone() == LargeZone }

func (o *Object) Pinned() bool            { return o.header.Load().Pinned() }
func (o *Object) Remembered() bool        { return o.header.Load().Remembered() }
func (o *Object) NeedsFinalization() bool { return o.header.Load().NeedsFinalization() }

// Marked reports whether the object carries the given mark value.
func (o *Object) Marked(mark uint8) bool { return o.header.Load().Mark() == mark }

// SetMarked sets the mark value and reports whether this call changed it.
// Concurrent callers race on the swap; exactly one of them wins.
func (o *Object) SetMarked(mark uint8) bool {
	_, ok := o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		if w.Mark() == mark {
			return w, false
		}
		return w.WithMark(mark), true
	})
	return ok
}

// ClearMark drops the mark value.
func (o *Object) ClearMark() {
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithMark(0), w.Mark() != 0
	})
}

// SetRemembered flags the object as recorded in the remembered set. It
// reports whether the flag was newly set.
func (o *Object) SetRemembered(set bool) bool {
	_, ok := o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		if w.Remembered() == set {
			return w, false
		}
		return w.WithRemembered(set), true
	})
	return ok
}

func (o *Object) SetPinned() {
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithPinned(true), !w.Pinned()
	})
}

func (o *Object) SetType(t TypeTag) {
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithType(t), w.Type() != t
	})
}

func (o *Object) SetNeedsFinalization(set bool) {
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithNeedsFinalization(set), w.NeedsFinalization() != set
	})
}

// Class returns the class reference.
func (o *Object) Class() Value { return o.klass.load() }

// Ivars returns the instance variable table reference.
func (o *Object) Ivars() Value { return o.ivars.load() }

func (o *Object) NumFields() int { return len(o.fields) }

// Field returns reference field i.
func (o *Object) Field(i int) Value { return o.fields[i].load() }

// Bytes returns the byte payload. It is never scanned for references.
func (o *Object) Bytes() []byte { return o.bytes }

// InitClass, InitIvars and InitField store without a write barrier. They
// may only be used before the object is reachable from any root.
func (o *Object) InitClass(v Value)        { o.klass.store(v) }
func (o *Object) InitIvars(v Value)        { o.ivars.store(v) }
func (o *Object) InitField(i int, v Value) { o.fields[i].store(v) }

// SetClass stores the class reference of a published object.
func (o *Object) SetClass(wb WriteBarrier, v Value) {
	o.klass.store(v)
	wb.WriteBarrier(o, v)
}

// SetIvars stores the ivars reference of a published object.
func (o *Object) SetIvars(wb WriteBarrier, v Value) {
	o.ivars.store(v)
	wb.WriteBarrier(o, v)
}

// SetField stores reference field i of a published object.
func (o *Object) SetField(wb WriteBarrier, i int, v Value) {
	o.fields[i].store(v)
	wb.WriteBarrier(o, v)
}

// EachReference calls fn for every reference held in a slot.
func (o *Object) EachReference(fn func(*Object)) {
	if p := o.klass.ref.Load(); p != nil {
		fn(p)
	}
	if p := o.ivars.ref.Load(); p != nil {
		fn(p)
	}
	for i := range o.fields {
		if p := o.fields[i].ref.Load(); p != nil {
			fn(p)
		}
	}
}

// UpdateReferences replaces every reference slot with the result of fn.
// Only the collector calls this, with all mutators parked.
func (o *Object) UpdateReferences(fn func(*Object) *Object) {
	update := func(s *slot) {
		if p := s.ref.Load(); p != nil {
			if q := fn(p); q != p {
				s.ref.Store(q)
			}
		}
	}
	update(&o.klass)
	update(&o.ivars)
	for i := range o.fields {
		update(&o.fields[i])
	}
}

// Forwarded reports whether the object was copied by the current young
// collection.
func (o *Object) Forwarded() bool { return o.header.Load().Forwarded() }

// Forward returns the new copy of a forwarded object.
func (o *Object) Forward() *Object {
	if gcAsserts && !o.Forwarded() {
		panic("gc: forwarding pointer read outside of a copy")
	}
	return o.forward
}

// SetForward installs the forwarding pointer to the new copy.
func (o *Object) SetForward(to *Object) {
	if gcAsserts && o.Pinned() {
		panic("gc: forwarding a pinned object")
	}
	o.forward = to
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithForwarded(true), true
	})
}

// Retire clears the forwarding pointer once the copy is complete and marks
// the old storage as no longer belonging to any space.
func (o *Object) Retire() {
	o.forward = nil
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithForwarded(false).WithZone(UnspecifiedZone), true
	})
}

// CopyTo returns a copy of the object at addr in zone. The copy keeps the
// type, mark, lock, pinned, inflated and finalization state and drops the
// remembered and forwarding flags. The inflated header follows the copy.
func (o *Object) CopyTo(addr Address, zone Zone) *Object {
	w := o.header.Load()
	dup := &Object{
		addr:   addr,
		size:   o.size,
		fields: make([]slot, len(o.fields)),
		bytes:  o.bytes,
	}
	dup.header.Store(w.WithZone(zone).WithRemembered(false).WithForwarded(false))
	dup.klass.store(o.klass.load())
	dup.ivars.store(o.ivars.load())
	for i := range o.fields {
		dup.fields[i].store(o.fields[i].load())
	}
	if ih := o.inflated.Load(); ih != nil {
		dup.inflated.Store(ih)
		ih.object.Store(dup)
	}
	return dup
}

// SetAge records how many young collections the object survived.
func (o *Object) SetAge(age int) {
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithAge(age), true
	})
}

// Detach clears every reference slot of a dead object before it is handed
// to a finalizer, so that finalization cannot make other dead objects
// reachable again.
func (o *Object) Detach() {
	o.klass.store(Nil)
	o.ivars.store(Nil)
	for i := range o.fields {
		o.fields[i].store(Nil)
	}
	o.inflated.Store(nil)
	o.header.Update(func(w HeaderWord) (HeaderWord, bool) {
		return w.WithZone(UnspecifiedZone).WithInflated(false).WithRemembered(false), true
	})
}
