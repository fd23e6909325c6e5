package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Errorf("Default().Validate() returned %v, want nil", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"1024", 1024},
		{"32KB", 32 << 10},
		{"8 MB", 8 << 20},
		{"1GB", 1 << 30},
	}
	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseSize(%q) returned %d, %v, want %d, nil", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseSize("12 parsecs"); err == nil {
		t.Errorf("ParseSize accepted an unknown unit")
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
young_bytes: 16MB
slab_size: 8192
promotion_age: 2
concurrent: false
`))
	if err != nil {
		t.Fatalf("Parse returned error %v", err)
	}
	if c.YoungBytes != 16<<20 || c.SlabSize != 8192 || c.PromotionAge != 2 || c.Concurrent {
		t.Errorf("Parse returned %+v", c)
	}
	if c.RegionSize != Default().RegionSize {
		t.Errorf("Parse did not keep the default region size: %v", c.RegionSize)
	}

	if _, err := Parse([]byte("no_such_key: 1\n")); err == nil {
		t.Errorf("Parse accepted an unknown key")
	}
	if _, err := Parse([]byte("promotion_age: 0\n")); !errors.Is(err, ErrInvalid) {
		t.Errorf("Parse returned %v, want ErrInvalid", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.yaml")
	if err := os.WriteFile(path, []byte("mark_batch: 32\nstress: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error %v", err)
	}
	if c.MarkBatch != 32 || !c.Stress {
		t.Errorf("Load returned %+v", c)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load of a missing file returned nil error")
	}
}

func TestParseOptions(t *testing.T) {
	c := Default()
	err := ParseOptions(&c, `gc.young_bytes=4MB concurrent=false "gc.large_object_threshold=1 KB" promotion_age=3`)
	if err != nil {
		t.Fatalf("ParseOptions returned error %v", err)
	}
	if c.YoungBytes != 4<<20 || c.Concurrent || c.LargeObjectThreshold != 1<<10 || c.PromotionAge != 3 {
		t.Errorf("ParseOptions returned %+v", c)
	}

	bad := []string{
		"young_bytes",
		"gc.colour=blue",
		"concurrent=maybe",
		"region_size=3000",
	}
	for _, opts := range bad {
		c := Default()
		if err := ParseOptions(&c, opts); err == nil {
			t.Errorf("ParseOptions(%q) returned nil error", opts)
		}
	}
}
