// Package debug provides collector controls and statistics in the style of
// runtime/debug.
package debug

import (
	"io"
	"slices"
	"time"

	"github.com/tinygo-org/objectmemory/memory"
)

type GCStats struct {
	LastGC         time.Time
	NumGC          int64
	NumMatureGC    int64
	PauseTotal     time.Duration
	Pause          []time.Duration // most recent first
	PauseQuantiles []time.Duration
}

// ReadGCStats reads statistics about collections of om into stats. Pause
// holds the recent pauses, most recent first. If PauseQuantiles is
// non-empty it is filled with evenly spaced quantiles of Pause, from the
// minimum to the maximum.
func ReadGCStats(om *memory.ObjectMemory, stats *GCStats) {
	d := om.Diagnostics()
	pauses, last := om.Pauses()

	stats.LastGC = last
	stats.NumGC = int64(d.YoungCollections + d.MatureCollections)
	stats.NumMatureGC = int64(d.MatureCollections)
	stats.PauseTotal = d.PauseTotal

	stats.Pause = append(stats.Pause[:0], pauses...)
	slices.Reverse(stats.Pause)

	if n := len(stats.PauseQuantiles); n > 0 {
		sorted := slices.Clone(pauses)
		slices.Sort(sorted)
		for i := range stats.PauseQuantiles {
			if len(sorted) == 0 {
				stats.PauseQuantiles[i] = 0
				continue
			}
			stats.PauseQuantiles[i] = sorted[0]
			if n > 1 {
				stats.PauseQuantiles[i] = sorted[i*(len(sorted)-1)/(n-1)]
			}
		}
	}
}

// FreeOSMemory runs a full collection on behalf of m.
func FreeOSMemory(om *memory.ObjectMemory, m *memory.Mutator) {
	om.CollectFull(m)
}

// WriteHeapDump writes a heap snapshot of om to w.
func WriteHeapDump(om *memory.ObjectMemory, m *memory.Mutator, w io.Writer) error {
	return om.WriteHeapDump(m, w)
}

// SetGCStress turns stress mode on or off for collections requested from
// now on and returns the previous setting.
func SetGCStress(om *memory.ObjectMemory, enabled bool) bool {
	return om.SetStress(enabled)
}
