package heapdump

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSnapshot(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, 7, time.Unix(100, 5), []uint64{0x1000, 0x2000})
	objects := []Object{
		{Address: 0x1000, Size: 24, Zone: 1, Type: 3, Refs: []uint64{0x2000}},
		{Address: 0x2000, Size: 8024, Zone: 3, Type: 5},
	}
	for i := range objects {
		if err := w.WriteObject(&objects[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	s, err := Read(bytes.NewReader(writeSnapshot(t)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.ID != 7 || !s.Time.Equal(time.Unix(100, 5)) {
		t.Errorf("header returned id %d time %v", s.ID, s.Time)
	}
	if len(s.Roots) != 2 || s.Roots[1] != 0x2000 {
		t.Errorf("roots returned %v", s.Roots)
	}
	obj, ok := s.Object(0x1000)
	if !ok || obj.Size != 24 || obj.Zone != 1 || obj.Type != 3 || len(obj.Refs) != 1 || obj.Refs[0] != 0x2000 {
		t.Errorf("object 0x1000 returned %+v, %v", obj, ok)
	}
	if obj, ok := s.Object(0x2000); !ok || obj.Refs != nil || obj.Size != 8024 {
		t.Errorf("object 0x2000 returned %+v, %v", obj, ok)
	}
	if _, ok := s.Object(0x3000); ok {
		t.Errorf("Object found a missing address")
	}
}

func TestCorruption(t *testing.T) {
	data := writeSnapshot(t)

	flipped := bytes.Clone(data)
	flipped[len(magic)+3] ^= 0x01
	if _, err := Read(bytes.NewReader(flipped)); err == nil {
		t.Errorf("Read accepted a corrupted snapshot")
	}

	sum := bytes.Clone(data)
	sum[len(sum)-1] ^= 0xff
	if _, err := Read(bytes.NewReader(sum)); !errors.Is(err, ErrChecksum) {
		t.Errorf("Read returned %v, want ErrChecksum", err)
	}

	if _, err := Read(bytes.NewReader(data[:len(data)-5])); !errors.Is(err, ErrFormat) {
		t.Errorf("Read of a truncated snapshot returned %v, want ErrFormat", err)
	}
	if _, err := Read(bytes.NewReader([]byte("NOTAHEAP"))); !errors.Is(err, ErrFormat) {
		t.Errorf("Read of a bad magic returned %v, want ErrFormat", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.dump")
	data := writeSnapshot(t)
	err := WriteFile(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(s.Objects) != 2 {
		t.Errorf("ReadFile returned %d objects, want 2", len(s.Objects))
	}

	fail := errors.New("write failed")
	if err := WriteFile(path, func(*os.File) error { return fail }); !errors.Is(err, fail) {
		t.Errorf("WriteFile returned %v, want the callback error", err)
	}
}
