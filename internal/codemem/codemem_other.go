//go:build !unix

package codemem

// Without mmap the block is ordinary Go memory and sealing only records the
// state.

func pageSize() int {
	return 4096
}

func mapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func protectExec(mem []byte) error {
	return nil
}

func unmapMemory(mem []byte) error {
	return nil
}
