// Package codemem allocates memory for generated code. The memory is not
// part of the managed heap: it never moves and is released explicitly.
package codemem

import "errors"

var (
	ErrSealed = errors.New("codemem: block is sealed")
	ErrFreed  = errors.New("codemem: block was freed")
)

// Block is one allocation. It is writable until it is sealed.
type Block struct {
	mem    []byte
	len    int
	sealed bool
	freed  bool
}

// Alloc returns a writable block of at least size bytes.
func Alloc(size int) (*Block, error) {
	if size <= 0 {
		size = 1
	}
	mem, err := mapMemory(roundUp(size))
	if err != nil {
		return nil, err
	}
	return &Block{mem: mem, len: size}, nil
}

func roundUp(size int) int {
	page := pageSize()
	return (size + page - 1) &^ (page - 1)
}

// Bytes returns the usable part of the block.
func (b *Block) Bytes() []byte {
	if b.freed {
		return nil
	}
	return b.mem[:b.len]
}

// Len returns the requested size.
func (b *Block) Len() int {
	return b.len
}

// Seal makes the block read-only and executable.
func (b *Block) Seal() error {
	switch {
	case b.freed:
		return ErrFreed
	case b.sealed:
		return ErrSealed
	}
	if err := protectExec(b.mem); err != nil {
		return err
	}
	b.sealed = true
	return nil
}

// Free releases the block. Freeing twice is a no-op.
func (b *Block) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	mem := b.mem
	b.mem = nil
	return unmapMemory(mem)
}

// Freed reports whether Free was called.
func (b *Block) Freed() bool {
	return b.freed
}
