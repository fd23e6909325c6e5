package memory

import (
	"github.com/tinygo-org/objectmemory/oop"
)

// inflatedChunkSize is the number of inflated headers allocated at once.
const inflatedChunkSize = 1024

// inflatedHeaders is the pool of inflated headers. Records are allocated in
// chunks and kept on a free list; a record is in use while it is linked to
// an object. Protected by the inflation lock, or used with the world
// stopped.
type inflatedHeaders struct {
	chunks [][]oop.InflatedHeader
	free   []*oop.InflatedHeader
	inUse  map[*oop.InflatedHeader]struct{}
}

func newInflatedHeaders() *inflatedHeaders {
	return &inflatedHeaders{inUse: make(map[*oop.InflatedHeader]struct{})}
}

func (p *inflatedHeaders) allocate() *oop.InflatedHeader {
	if len(p.free) == 0 {
		chunk := make([]oop.InflatedHeader, inflatedChunkSize)
		p.chunks = append(p.chunks, chunk)
		for i := len(chunk) - 1; i >= 0; i-- {
			p.free = append(p.free, &chunk[i])
		}
	}
	ih := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[ih] = struct{}{}
	return ih
}

func (p *inflatedHeaders) release(ih *oop.InflatedHeader) {
	delete(p.inUse, ih)
	ih.Reset()
	p.free = append(p.free, ih)
}

// sweep releases the records whose object is dead.
func (p *inflatedHeaders) sweep(dead func(*oop.Object) bool) int {
	freed := 0
	for ih := range p.inUse {
		if obj := ih.Object(); obj == nil || dead(obj) {
			p.release(ih)
			freed++
		}
	}
	return freed
}

func (p *inflatedHeaders) len() int {
	return len(p.inUse)
}

func (p *inflatedHeaders) capacity() int {
	return len(p.chunks) * inflatedChunkSize
}

// InflateHeader returns the inflated header of obj, creating it on first
// use. Concurrent calls for the same object return the same record.
func (om *ObjectMemory) InflateHeader(obj *oop.Object) *oop.InflatedHeader {
	if ih := obj.Inflated(); ih != nil {
		return ih
	}
	om.inflationLock.Lock()
	defer om.inflationLock.Unlock()
	if ih := obj.Inflated(); ih != nil {
		return ih
	}
	ih := om.inflated.allocate()
	obj.Inflate(ih)
	return ih
}

// InflateForID inflates obj and assigns its identity number.
func (om *ObjectMemory) InflateForID(obj *oop.Object) *oop.InflatedHeader {
	ih := om.InflateHeader(obj)
	if ih.ObjectID() == 0 {
		ih.SetObjectID(om.lastObjectID.Add(1))
	}
	return ih
}

// ObjectID returns the stable identity number of obj. It survives
// relocation.
func (om *ObjectMemory) ObjectID(obj *oop.Object) uint64 {
	return om.InflateForID(obj).ObjectID()
}

// InflateForHandle inflates obj so a native handle can be linked to it.
func (om *ObjectMemory) InflateForHandle(obj *oop.Object) *oop.InflatedHeader {
	return om.InflateHeader(obj)
}

// InflatedHeaders returns the number of inflated headers in use.
func (om *ObjectMemory) InflatedHeaders() int {
	om.inflationLock.Lock()
	defer om.inflationLock.Unlock()
	return om.inflated.len()
}
