package codemem

import (
	"errors"
	"testing"
)

func TestBlockLifecycle(t *testing.T) {
	b, err := Alloc(100)
	if err != nil {
		t.Fatalf("Alloc returned error %v", err)
	}
	if b.Len() != 100 || len(b.Bytes()) != 100 {
		t.Errorf("Alloc(100) returned a block of %d/%d bytes", b.Len(), len(b.Bytes()))
	}
	copy(b.Bytes(), []byte{0xc3})
	if b.Bytes()[0] != 0xc3 {
		t.Errorf("block is not writable")
	}
	if err := b.Seal(); err != nil {
		t.Fatalf("Seal returned error %v", err)
	}
	if err := b.Seal(); !errors.Is(err, ErrSealed) {
		t.Errorf("second Seal returned %v, want ErrSealed", err)
	}
	if err := b.Free(); err != nil {
		t.Errorf("Free returned error %v", err)
	}
	if !b.Freed() || b.Bytes() != nil {
		t.Errorf("block still usable after Free")
	}
	if err := b.Free(); err != nil {
		t.Errorf("second Free returned %v, want nil", err)
	}
	if err := b.Seal(); !errors.Is(err, ErrFreed) {
		t.Errorf("Seal after Free returned %v, want ErrFreed", err)
	}
}
