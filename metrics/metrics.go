// Package metrics exposes the object memory counters under stable names, in
// the style of runtime/metrics.
package metrics

import (
	"math"
	"time"

	"github.com/tinygo-org/objectmemory/diagnostics"
)

// Source is what metrics are read from. *memory.ObjectMemory implements it.
type Source interface {
	Diagnostics() diagnostics.ObjectDiagnostics
	Pauses() (pauses []time.Duration, last time.Time)
}

type Description struct {
	Name        string
	Description string
	Kind        ValueKind
	Cumulative  bool
}

type description struct {
	Description
	read func(d *diagnostics.ObjectDiagnostics, pauses []time.Duration) Value
}

func uint64Value(v uint64) Value { return Value{kind: KindUint64, scalar: v} }

func float64Value(v float64) Value { return Value{kind: KindFloat64, scalar: math.Float64bits(v)} }

var descriptions = []description{
	{
		Description: Description{Name: "/gc/cycles/young:gc-cycles", Description: "Young collections completed.", Kind: KindUint64, Cumulative: true},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.YoungCollections)
		},
	},
	{
		Description: Description{Name: "/gc/cycles/mature:gc-cycles", Description: "Mature collections completed.", Kind: KindUint64, Cumulative: true},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.MatureCollections)
		},
	},
	{
		Description: Description{Name: "/gc/heap/promoted:objects", Description: "Objects promoted from the nursery.", Kind: KindUint64, Cumulative: true},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Promoted)
		},
	},
	{
		Description: Description{Name: "/gc/heap/young:bytes", Description: "Bytes in the nursery.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Young.Bytes)
		},
	},
	{
		Description: Description{Name: "/gc/heap/young:objects", Description: "Objects in the nursery, including the ones that died since the last young collection.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Young.Objects)
		},
	},
	{
		Description: Description{Name: "/gc/heap/mature:bytes", Description: "Bytes in the mature space.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Mature.Bytes)
		},
	},
	{
		Description: Description{Name: "/gc/heap/mature:objects", Description: "Objects in the mature space.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Mature.Objects)
		},
	},
	{
		Description: Description{Name: "/gc/heap/large:bytes", Description: "Bytes in the large object space.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Large.Bytes)
		},
	},
	{
		Description: Description{Name: "/gc/heap/large:objects", Description: "Objects in the large object space.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.Large.Objects)
		},
	},
	{
		Description: Description{Name: "/gc/regions/free:regions", Description: "Immix regions owned by neither generation.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(uint64(d.FreeRegions))
		},
	},
	{
		Description: Description{Name: "/gc/remembered:objects", Description: "Objects in the remembered set.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(uint64(d.Remembered))
		},
	},
	{
		Description: Description{Name: "/gc/inflated-headers:objects", Description: "Inflated headers in use.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(uint64(d.InflatedHeaders))
		},
	},
	{
		Description: Description{Name: "/gc/handles:handles", Description: "Native handles, young and mature.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(uint64(d.YoungHandles + d.MatureHandles))
		},
	},
	{
		Description: Description{Name: "/gc/finalizers/due:objects", Description: "Finalizers queued or running.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(uint64(d.FinalizersDue))
		},
	},
	{
		Description: Description{Name: "/gc/code/resident:bytes", Description: "Bytes held by live code resources.", Kind: KindUint64},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.CodeBytes)
		},
	},
	{
		Description: Description{Name: "/gc/code/freed:bytes", Description: "Bytes released by code resource cleanup.", Kind: KindUint64, Cumulative: true},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return uint64Value(d.CodeFreedBytes)
		},
	},
	{
		Description: Description{Name: "/gc/pauses/total:seconds", Description: "Time the world was stopped for collections.", Kind: KindFloat64, Cumulative: true},
		read: func(d *diagnostics.ObjectDiagnostics, _ []time.Duration) Value {
			return float64Value(d.PauseTotal.Seconds())
		},
	},
	{
		Description: Description{Name: "/gc/pauses:seconds", Description: "Distribution of recent stop-the-world pauses.", Kind: KindFloat64Histogram},
		read: func(_ *diagnostics.ObjectDiagnostics, pauses []time.Duration) Value {
			return Value{kind: KindFloat64Histogram, hist: pauseHistogram(pauses)}
		},
	},
}

// All returns the supported metrics.
func All() []Description {
	all := make([]Description, len(descriptions))
	for i := range descriptions {
		all[i] = descriptions[i].Description
	}
	return all
}

type Float64Histogram struct {
	// Counts[i] is the number of samples in [Buckets[i], Buckets[i+1]).
	Counts  []uint64
	Buckets []float64
}

// pauseBuckets are the boundaries of the pause histogram, in seconds.
var pauseBuckets = []float64{0, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, math.Inf(1)}

func pauseHistogram(pauses []time.Duration) *Float64Histogram {
	h := &Float64Histogram{
		Counts:  make([]uint64, len(pauseBuckets)-1),
		Buckets: pauseBuckets,
	}
	for _, p := range pauses {
		s := p.Seconds()
		for i := len(h.Counts) - 1; i >= 0; i-- {
			if s >= pauseBuckets[i] {
				h.Counts[i]++
				break
			}
		}
	}
	return h
}

type Sample struct {
	Name  string
	Value Value
}

// Read fills in the value of each sample. Samples with an unknown name get
// a value of kind KindBad.
func Read(src Source, m []Sample) {
	d := src.Diagnostics()
	pauses, _ := src.Pauses()
	for i := range m {
		m[i].Value = Value{}
		for j := range descriptions {
			if descriptions[j].Name == m[i].Name {
				m[i].Value = descriptions[j].read(&d, pauses)
				break
			}
		}
	}
}

type Value struct {
	kind   ValueKind
	scalar uint64
	hist   *Float64Histogram
}

func (v Value) Float64() float64 {
	if v.kind != KindFloat64 {
		panic("called Float64 on non-float64 metric value")
	}
	return math.Float64frombits(v.scalar)
}

func (v Value) Float64Histogram() *Float64Histogram {
	if v.kind != KindFloat64Histogram {
		panic("called Float64Histogram on non-Float64Histogram metric value")
	}
	return v.hist
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 {
		panic("called Uint64 on non-uint64 metric value")
	}
	return v.scalar
}

type ValueKind int

const (
	KindBad ValueKind = iota
	KindUint64
	KindFloat64
	KindFloat64Histogram
)
