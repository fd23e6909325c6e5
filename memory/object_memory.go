// Package memory is the object memory of the runtime: allocation, the
// generational garbage collector and the per-object services that have to
// cooperate with it (inflated headers and locks, native handles,
// finalization and code resources).
//
// The heap has three spaces. New objects are bump allocated from
// thread-local slabs in the nursery, which is collected by copying. Objects
// that survive enough young collections are promoted to the mature
// generation, a set of Immix regions collected by mark and sweep, optionally
// with a concurrent marker. Objects above the large object threshold live in
// the large object space and never move.
//
// Collections only happen at safepoints. Allocation never collects: it sets
// one of the collect flags and a Mutator runs the collection at its next
// Checkpoint.
package memory

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinygo-org/objectmemory/config"
	"github.com/tinygo-org/objectmemory/internal/task"
	"github.com/tinygo-org/objectmemory/oop"
)

const gcDebug = false

// gcAsserts enables invariant checks that panic with a "gc:" message.
const gcAsserts = true

// ErrOutOfMemory is returned when no space can hold an allocation. Callers
// should treat it as fatal.
var ErrOutOfMemory = errors.New("out of memory")

// Safepoint is the thread parking service the collector relies on.
// internal/task.World is the default implementation.
type Safepoint interface {
	// Attach and Detach register and unregister a mutator thread.
	Attach()
	Detach()

	// Spawn registers a new thread on behalf of an attached one. The caller
	// parks while the world is stopped.
	Spawn()

	// Poll parks the calling thread while the world is stopped.
	Poll()

	// EnterBlocking and ExitBlocking bracket a blocking wait. A thread in
	// a blocking region counts as parked.
	EnterBlocking()
	ExitBlocking()

	// StopTheWorld returns once every other attached thread is parked.
	StopTheWorld()
	ResumeTheWorld()
}

// Option configures an ObjectMemory.
type Option func(*ObjectMemory)

// WithLogger sets the logger collections report to. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(om *ObjectMemory) {
		om.log = logger
	}
}

// WithSafepoint replaces the default safepoint service.
func WithSafepoint(sp Safepoint) Option {
	return func(om *ObjectMemory) {
		om.safepoint = sp
	}
}

// ObjectMemory is the shared state of one heap. All operations take it
// explicitly; there is no package level heap.
type ObjectMemory struct {
	cfg       config.Config
	log       *slog.Logger
	safepoint Safepoint

	// allocationLock protects the region pool, the nursery, the mature
	// space and the large object space. Collections hold it while they run.
	allocationLock sync.Mutex

	// inflationLock serializes header inflation.
	inflationLock sync.Mutex

	regions *regionPool
	young   *nursery
	immix   *immixSpace
	large   *largeObjectSpace
	marker  *Marker

	threshold uintptr
	slabSize  uintptr

	mark atomic.Uint32

	collectYoungNow        atomic.Bool
	collectMatureNow       atomic.Bool
	collectMatureFinishNow atomic.Bool
	matureGCInProgress     atomic.Bool
	inhibit                atomic.Int32
	stress                 atomic.Bool

	rememberedLock sync.Mutex
	remembered     []*oop.Object

	inflated  *inflatedHeaders
	handles   *handleTable
	finalizer *finalizerQueue
	code      *CodeManager
	weak      weakRefSet

	mutatorLock   sync.Mutex
	mutators      map[*Mutator]struct{}
	lastMutatorID uint32

	rootLock    sync.Mutex
	globalRoots map[*oop.Value]struct{}

	youngObjects atomic.Int64
	youngBytes   atomic.Int64

	// Bytes allocated in the mature and large spaces since the last mature
	// collection.
	matureAllocated atomic.Uint64

	lastObjectID   atomic.Uint64
	lastSnapshotID atomic.Uint64

	stats collectorStats
}

// New creates an object memory. The configuration is validated first.
func New(cfg config.Config, options ...Option) (*ObjectMemory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	om := &ObjectMemory{
		cfg:         cfg,
		threshold:   uintptr(cfg.LargeObjectThreshold),
		slabSize:    uintptr(cfg.SlabSize),
		mutators:    make(map[*Mutator]struct{}),
		globalRoots: make(map[*oop.Value]struct{}),
	}
	for _, opt := range options {
		opt(om)
	}
	if om.log == nil {
		om.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if om.safepoint == nil {
		om.safepoint = task.NewWorld()
	}

	regionSize := uintptr(cfg.RegionSize)
	om.regions = newRegionPool(uintptr(cfg.ImmixBytes), regionSize, uintptr(cfg.LineSize))
	om.young = newNursery(om.regions, int(uintptr(cfg.YoungBytes)/regionSize/2))
	om.immix = newImmixSpace(om.regions)
	om.large = newLargeObjectSpace(om.regions.end()+oop.Address(regionSize), uintptr(cfg.LargeBytes))
	om.marker = newMarker(om, cfg.MarkBatch)
	om.inflated = newInflatedHeaders()
	om.handles = newHandleTable()
	om.finalizer = newFinalizerQueue()
	om.code = newCodeManager()
	om.mark.Store(uint32(oop.MarkA))
	om.stress.Store(cfg.Stress)

	if gcDebug {
		om.log.Debug("object memory created",
			slog.Int("regions", len(om.regions.regions)),
			slog.Int("nursery_regions", om.young.maxRegions))
	}
	return om, nil
}

// Config returns the configuration the memory was created with.
func (om *ObjectMemory) Config() config.Config {
	return om.cfg
}

// Logger returns the logger collections report to.
func (om *ObjectMemory) Logger() *slog.Logger {
	return om.log
}

func (om *ObjectMemory) currentMark() uint8 {
	return uint8(om.mark.Load())
}

// rotateMark switches to the other mark value for a new mature cycle.
func (om *ObjectMemory) rotateMark() uint8 {
	mark := oop.NextMark(om.currentMark())
	om.mark.Store(uint32(mark))
	return mark
}

// MatureGCInProgress reports whether a concurrent mature cycle has started
// and not yet finished.
func (om *ObjectMemory) MatureGCInProgress() bool {
	return om.matureGCInProgress.Load()
}

// InhibitGC disables collections until the returned function is called.
// Calls nest.
func (om *ObjectMemory) InhibitGC() (restore func()) {
	om.inhibit.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { om.inhibit.Add(-1) })
	}
}

// CanGC reports whether collections are currently allowed.
func (om *ObjectMemory) CanGC() bool {
	return om.inhibit.Load() == 0
}

// SetStress turns stress mode on or off and returns the previous setting.
// In stress mode every slab refill requests a young collection and every
// mature allocation or promotion requests a mature collection.
func (om *ObjectMemory) SetStress(enabled bool) bool {
	return om.stress.Swap(enabled)
}

// AddGlobalRoot registers a slot outside of any mutator as a root. The
// collector updates it when its object moves.
func (om *ObjectMemory) AddGlobalRoot(slot *oop.Value) {
	om.rootLock.Lock()
	om.globalRoots[slot] = struct{}{}
	om.rootLock.Unlock()
}

// RemoveGlobalRoot unregisters a slot added with AddGlobalRoot.
func (om *ObjectMemory) RemoveGlobalRoot(slot *oop.Value) {
	om.rootLock.Lock()
	delete(om.globalRoots, slot)
	om.rootLock.Unlock()
}

// remember records a non-young object that may refer to young objects.
func (om *ObjectMemory) remember(obj *oop.Object) {
	om.rememberedLock.Lock()
	om.remembered = append(om.remembered, obj)
	om.rememberedLock.Unlock()
}

// RememberedSetSize returns the number of objects in the remembered set.
func (om *ObjectMemory) RememberedSetSize() int {
	om.rememberedLock.Lock()
	defer om.rememberedLock.Unlock()
	return len(om.remembered)
}

// collectorStats records collection counts and pauses.
type collectorStats struct {
	mu                sync.Mutex
	youngCollections  uint64
	matureCollections uint64
	promoted          uint64
	lastGC            time.Time
	pauseTotal        time.Duration
	pauses            []time.Duration
}

// maxPauses is the number of recent pauses kept.
const maxPauses = 256

func (s *collectorStats) recordPause(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := time.Since(start)
	s.lastGC = start
	s.pauseTotal += d
	if len(s.pauses) == maxPauses {
		copy(s.pauses, s.pauses[1:])
		s.pauses = s.pauses[:maxPauses-1]
	}
	s.pauses = append(s.pauses, d)
}

// Pauses returns the most recent stop-the-world pauses, oldest first, and
// the time the last one started.
func (om *ObjectMemory) Pauses() (pauses []time.Duration, last time.Time) {
	om.stats.mu.Lock()
	defer om.stats.mu.Unlock()
	return slices.Clone(om.stats.pauses), om.stats.lastGC
}
