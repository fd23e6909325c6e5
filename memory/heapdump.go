package memory

import (
	"io"
	"os"
	"time"

	"github.com/tinygo-org/objectmemory/heapdump"
	"github.com/tinygo-org/objectmemory/oop"
)

// WriteHeapDump writes a snapshot of every object in the heap to w. The
// world is stopped while the heap is walked. Young objects that died since
// the last young collection are included; they are unreachable from the
// roots in the dump.
func (om *ObjectMemory) WriteHeapDump(m *Mutator, w io.Writer) error {
	om.stopTheWorld(m)
	defer om.resumeTheWorld()
	om.allocationLock.Lock()
	defer om.allocationLock.Unlock()

	data := om.gcData()
	var roots []uint64
	data.eachRoot(func(obj *oop.Object) {
		roots = append(roots, uint64(obj.Address()))
	})

	hw := heapdump.NewWriter(w, data.id, time.Now(), roots)
	var err error
	write := func(obj *oop.Object) {
		if err != nil || obj.Zone() == oop.UnspecifiedZone {
			return
		}
		rec := heapdump.Object{
			Address: uint64(obj.Address()),
			Size:    uint64(obj.Size()),
			Zone:    uint8(obj.Zone()),
			Type:    uint8(obj.Type()),
		}
		obj.EachReference(func(ref *oop.Object) {
			rec.Refs = append(rec.Refs, uint64(ref.Address()))
		})
		err = hw.WriteObject(&rec)
	}

	for _, obj := range om.young.objects {
		write(obj)
	}
	om.mutatorLock.Lock()
	for mu := range om.mutators {
		for _, obj := range mu.allocated {
			write(obj)
		}
	}
	om.mutatorLock.Unlock()
	om.immix.each(write)
	om.large.each(write)
	if err != nil {
		return err
	}
	return hw.Close()
}

// WriteHeapDumpFile writes a heap dump to path.
func (om *ObjectMemory) WriteHeapDumpFile(m *Mutator, path string) error {
	return heapdump.WriteFile(path, func(f *os.File) error {
		return om.WriteHeapDump(m, f)
	})
}
