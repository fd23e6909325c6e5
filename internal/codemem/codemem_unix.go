//go:build unix

package codemem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

func mapMemory(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("codemem: mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

func protectExec(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("codemem: mprotect: %w", err)
	}
	return nil
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}
