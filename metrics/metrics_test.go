package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/tinygo-org/objectmemory/diagnostics"
)

type fakeSource struct {
	d      diagnostics.ObjectDiagnostics
	pauses []time.Duration
}

func (s *fakeSource) Diagnostics() diagnostics.ObjectDiagnostics { return s.d }

func (s *fakeSource) Pauses() ([]time.Duration, time.Time) { return s.pauses, time.Time{} }

func TestAll(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range All() {
		if !strings.HasPrefix(d.Name, "/gc/") || !strings.Contains(d.Name, ":") {
			t.Errorf("metric name %q is malformed", d.Name)
		}
		if seen[d.Name] {
			t.Errorf("metric %q listed twice", d.Name)
		}
		seen[d.Name] = true
		if d.Kind == KindBad || d.Description == "" {
			t.Errorf("metric %q has no kind or description", d.Name)
		}
	}
}

func TestRead(t *testing.T) {
	src := &fakeSource{
		d: diagnostics.ObjectDiagnostics{
			Young:            diagnostics.Space{Objects: 10, Bytes: 240},
			Large:            diagnostics.Space{Objects: 1, Bytes: 8192},
			YoungCollections: 3,
			YoungHandles:     2,
			MatureHandles:    1,
			PauseTotal:       1500 * time.Microsecond,
		},
		pauses: []time.Duration{500 * time.Nanosecond, 50 * time.Microsecond, 2 * time.Millisecond},
	}
	samples := []Sample{
		{Name: "/gc/cycles/young:gc-cycles"},
		{Name: "/gc/heap/young:bytes"},
		{Name: "/gc/heap/large:objects"},
		{Name: "/gc/handles:handles"},
		{Name: "/gc/pauses/total:seconds"},
		{Name: "/gc/pauses:seconds"},
		{Name: "/gc/unknown:bytes"},
	}
	Read(src, samples)

	for i, want := range []uint64{3, 240, 1, 3} {
		if got := samples[i].Value.Uint64(); got != want {
			t.Errorf("%s returned %d, want %d", samples[i].Name, got, want)
		}
	}
	if got := samples[4].Value.Float64(); got != 0.0015 {
		t.Errorf("%s returned %v, want 0.0015", samples[4].Name, got)
	}
	h := samples[5].Value.Float64Histogram()
	if len(h.Counts) != len(h.Buckets)-1 {
		t.Fatalf("histogram has %d counts for %d buckets", len(h.Counts), len(h.Buckets))
	}
	want := []uint64{1, 0, 1, 0, 1, 0, 0, 0}
	for i := range want {
		if h.Counts[i] != want[i] {
			t.Errorf("histogram counts are %v, want %v", h.Counts, want)
			break
		}
	}
	if samples[6].Value.Kind() != KindBad {
		t.Errorf("unknown metric has kind %v", samples[6].Value.Kind())
	}
}
