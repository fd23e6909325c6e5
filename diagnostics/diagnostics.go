// Package diagnostics holds snapshots of the object memory counters and
// prints them in a consistent way.
package diagnostics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
)

// Space is the occupancy of one heap space.
type Space struct {
	Name     string
	Objects  uint64
	Bytes    uint64
	Capacity uint64
}

// ObjectDiagnostics is a snapshot of the object memory counters.
type ObjectDiagnostics struct {
	Young  Space
	Mature Space
	Large  Space

	Regions     int
	FreeRegions int

	Remembered      int
	InflatedHeaders int
	YoungHandles    int
	MatureHandles   int

	CodeResources  int
	CodeBytes      uint64
	CodeFreed      uint64
	CodeFreedBytes uint64
	Finalizers     int
	FinalizersDue  int

	YoungCollections  uint64
	MatureCollections uint64
	Promoted          uint64
	MatureInProgress  bool
	PauseTotal        time.Duration
	LastPause         time.Duration
}

// Spaces returns the three heap spaces in order.
func (d *ObjectDiagnostics) Spaces() []Space {
	return []Space{d.Young, d.Mature, d.Large}
}

// TotalBytes returns the bytes in use in all spaces.
func (d *ObjectDiagnostics) TotalBytes() uint64 {
	return d.Young.Bytes + d.Mature.Bytes + d.Large.Bytes
}

// TotalObjects returns the number of objects in all spaces.
func (d *ObjectDiagnostics) TotalObjects() uint64 {
	return d.Young.Objects + d.Mature.Objects + d.Large.Objects
}

func size(n uint64) string {
	return bytesize.ByteSize(n).String()
}

// WriteTo writes the space occupancy line by line.
func (s Space) WriteTo(w io.Writer) (int64, error) {
	line := fmt.Sprintf("%-8s %8d objects %12s", s.Name+":", s.Objects, size(s.Bytes))
	if s.Capacity != 0 {
		line += fmt.Sprintf(" of %s (%.1f%%)", size(s.Capacity), 100*float64(s.Bytes)/float64(s.Capacity))
	}
	n, err := fmt.Fprintln(w, line)
	return int64(n), err
}

// WriteTo prints the snapshot in a human-readable form.
func (d *ObjectDiagnostics) WriteTo(w io.Writer) (int64, error) {
	var buf strings.Builder
	for _, s := range d.Spaces() {
		s.WriteTo(&buf)
	}
	fmt.Fprintf(&buf, "regions:  %d free of %d\n", d.FreeRegions, d.Regions)
	fmt.Fprintf(&buf, "remembered set: %d objects\n", d.Remembered)
	fmt.Fprintf(&buf, "inflated headers: %d\n", d.InflatedHeaders)
	fmt.Fprintf(&buf, "handles: %d young, %d mature\n", d.YoungHandles, d.MatureHandles)
	fmt.Fprintf(&buf, "code: %d resources %s, %d freed %s\n", d.CodeResources, size(d.CodeBytes), d.CodeFreed, size(d.CodeFreedBytes))
	fmt.Fprintf(&buf, "finalizers: %d registered, %d due\n", d.Finalizers, d.FinalizersDue)
	fmt.Fprintf(&buf, "collections: %d young, %d mature, %d promoted", d.YoungCollections, d.MatureCollections, d.Promoted)
	if d.MatureInProgress {
		buf.WriteString(" (marking)")
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "pauses: %v total, %v last\n", d.PauseTotal, d.LastPause)
	n, err := io.WriteString(w, buf.String())
	return int64(n), err
}
