package memory

import (
	"sync"

	"github.com/tinygo-org/objectmemory/internal/codemem"
	"github.com/tinygo-org/objectmemory/oop"
)

// CodeResource is a runtime resource outside the heap, such as generated
// machine code, whose lifetime is tied to an owning object.
type CodeResource interface {
	// Size returns the number of bytes the resource holds.
	Size() uintptr

	// Cleanup releases the resource. It is called once, after the owner
	// died.
	Cleanup()
}

type codeEntry struct {
	owner    *oop.Object
	resource CodeResource
}

// CodeManager tracks code resources and releases them when their owner
// dies.
type CodeManager struct {
	mu        sync.Mutex
	entries   []codeEntry
	bytes     uintptr
	freed     uint64
	freedSize uint64
}

func newCodeManager() *CodeManager {
	return &CodeManager{}
}

// AddCodeResource ties cr to owner.
func (om *ObjectMemory) AddCodeResource(owner *oop.Object, cr CodeResource) {
	cm := om.code
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries = append(cm.entries, codeEntry{owner: owner, resource: cr})
	cm.bytes += cr.Size()
}

// CodeManager returns the code resource tracker.
func (om *ObjectMemory) CodeManager() *CodeManager {
	return om.code
}

// sweep cleans up the resources whose owner is dead and updates the owners
// of the others with live. It returns the number of bytes released.
func (cm *CodeManager) sweep(dead func(*oop.Object) bool, live func(*oop.Object) *oop.Object) uintptr {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	var released uintptr
	kept := cm.entries[:0]
	for _, e := range cm.entries {
		if dead(e.owner) {
			size := e.resource.Size()
			e.resource.Cleanup()
			released += size
			cm.freed++
			continue
		}
		if live != nil {
			e.owner = live(e.owner)
		}
		kept = append(kept, e)
	}
	clear(cm.entries[len(kept):])
	cm.entries = kept
	cm.bytes -= released
	cm.freedSize += uint64(released)
	return released
}

// Stats returns the number of live resources, the bytes they hold, and the
// number and size of resources released so far.
func (cm *CodeManager) Stats() (resources int, bytes uintptr, freed, freedBytes uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.entries), cm.bytes, cm.freed, cm.freedSize
}

// MachineCode is a CodeResource holding executable code in memory outside
// the heap.
type MachineCode struct {
	block *codemem.Block
}

// NewMachineCode copies code into a new executable block.
func NewMachineCode(code []byte) (*MachineCode, error) {
	block, err := codemem.Alloc(len(code))
	if err != nil {
		return nil, err
	}
	copy(block.Bytes(), code)
	return &MachineCode{block: block}, nil
}

// Seal makes the code executable and read-only.
func (c *MachineCode) Seal() error {
	return c.block.Seal()
}

// Bytes returns the code. It must not be modified after Seal.
func (c *MachineCode) Bytes() []byte {
	return c.block.Bytes()
}

func (c *MachineCode) Size() uintptr {
	return uintptr(c.block.Len())
}

func (c *MachineCode) Cleanup() {
	c.block.Free()
}

// Freed reports whether the code was released.
func (c *MachineCode) Freed() bool {
	return c.block.Freed()
}
