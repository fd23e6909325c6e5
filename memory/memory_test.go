package memory

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/inhies/go-bytesize"
	"github.com/tinygo-org/objectmemory/config"
	"github.com/tinygo-org/objectmemory/oop"
)

// testConfig is a heap small enough that tests fill it quickly.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.RegionSize = 32 * config.Size(bytesize.KB)
	cfg.LineSize = 256
	cfg.ImmixBytes = 4 * config.Size(bytesize.MB)
	cfg.YoungBytes = 256 * config.Size(bytesize.KB)
	cfg.LargeBytes = 4 * config.Size(bytesize.MB)
	cfg.SlabSize = 4 * config.Size(bytesize.KB)
	cfg.LargeObjectThreshold = 2700
	cfg.PromotionAge = 6
	cfg.MatureTrigger = 1 * config.Size(bytesize.MB)
	cfg.Concurrent = false
	cfg.MarkBatch = 64
	return cfg
}

func newTestMemory(t *testing.T, modify ...func(*config.Config)) (*ObjectMemory, *Mutator) {
	t.Helper()
	cfg := testConfig()
	for _, fn := range modify {
		fn(&cfg)
	}
	om, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := om.NewMutator()
	t.Cleanup(m.Close)
	return om, m
}

func mustNew(t *testing.T, om *ObjectMemory, m *Mutator, kind *oop.Kind) *oop.Object {
	t.Helper()
	obj, err := om.New(m, kind, nil)
	if err != nil {
		t.Fatalf("New(%s): %v", kind.Name, err)
	}
	return obj
}

func mustNewFields(t *testing.T, om *ObjectMemory, m *Mutator, n int) *oop.Object {
	t.Helper()
	obj, err := om.NewFields(m, oop.TupleKind, nil, n)
	if err != nil {
		t.Fatalf("NewFields(%d): %v", n, err)
	}
	return obj
}

func mustNewPinned(t *testing.T, om *ObjectMemory, m *Mutator, n int) *oop.Object {
	t.Helper()
	obj, err := om.NewFieldsPinned(m, oop.TupleKind, nil, n)
	if err != nil {
		t.Fatalf("NewFieldsPinned(%d): %v", n, err)
	}
	return obj
}

func TestAllocateFromSlab(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNew(t, om, m, oop.PlainObject)
	if got := om.ValidateObject(obj); got != InYoung {
		t.Fatalf("ValidateObject returned %v, want %v", got, InYoung)
	}
	start, limit := m.Slab().Bounds()
	if obj.Address() < start || obj.Address() >= limit {
		t.Errorf("object at %#x is outside the slab [%#x, %#x)", obj.Address(), start, limit)
	}
	if got, want := m.Slab().Remaining(), uintptr(om.cfg.SlabSize)-obj.Size(); got != want {
		t.Errorf("Remaining returned %d, want %d", got, want)
	}
	if obj.Class().IsReference() {
		t.Errorf("class of an object allocated with a nil class is %v", obj.Class())
	}

	big, err := om.NewBytes(m, oop.ByteArray, nil, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if got := om.ValidateObject(big); got != InYoung {
		t.Errorf("ValidateObject(2000 byte array) returned %v, want %v", got, InYoung)
	}
	if big.Address() >= start && big.Address() < limit {
		t.Errorf("object above a quarter slab was placed in the slab")
	}
}

func TestSlabBoundary(t *testing.T) {
	var s Slab
	if _, ok := s.Allocate(8); ok {
		t.Fatalf("empty slab allocated")
	}
	s.refill(0x1000, 64)
	if addr, ok := s.Allocate(32); !ok || addr != 0x1000 {
		t.Errorf("Allocate(32) returned %#x, %v, want 0x1000, true", addr, ok)
	}
	if _, ok := s.Allocate(40); ok {
		t.Errorf("Allocate(40) crossed the slab limit")
	}
	if addr, ok := s.Allocate(32); !ok || addr != 0x1020 {
		t.Errorf("Allocate(32) returned %#x, %v, want 0x1020, true", addr, ok)
	}
	if s.Remaining() != 0 {
		t.Errorf("Remaining returned %d, want 0", s.Remaining())
	}
	if _, ok := s.Allocate(1); ok {
		t.Errorf("full slab allocated")
	}
}

func TestYoungCollectionCopiesLiveObjects(t *testing.T) {
	om, m := newTestMemory(t)

	parent := mustNewFields(t, om, m, 2)
	child := mustNewFields(t, om, m, 1)
	child.InitField(0, oop.Fixnum(42))
	parent.InitField(0, oop.Ref(child))
	parent.InitField(1, oop.Symbol(7))
	garbage := mustNewFields(t, om, m, 1)

	root := oop.Ref(parent)
	m.PushRoot(&root)
	defer m.PopRoot()

	om.CollectYoung(m)

	moved := root.Object()
	if moved == parent {
		t.Fatalf("root still refers to the from-space object")
	}
	if got := om.ValidateObject(moved); got != InYoung {
		t.Errorf("ValidateObject(copy) returned %v, want %v", got, InYoung)
	}
	if moved.Age() != 1 {
		t.Errorf("Age returned %d, want 1", moved.Age())
	}
	if v := moved.Field(1); !v.IsSymbol() || v.SymbolID() != 7 {
		t.Errorf("immediate field returned %v", v)
	}
	movedChild := moved.Field(0).Object()
	if movedChild == nil || movedChild == child {
		t.Fatalf("child reference was not updated: %v", moved.Field(0))
	}
	if v := movedChild.Field(0); v.FixnumValue() != 42 {
		t.Errorf("child field returned %v, want 42", v)
	}
	for _, obj := range []*oop.Object{parent, child, garbage} {
		if om.ValidObject(obj) {
			t.Errorf("from-space object at %#x is still valid", obj.Address())
		}
	}
	if d := om.Diagnostics(); d.Young.Objects != 2 || d.YoungCollections != 1 {
		t.Errorf("after collection: %d young objects, %d collections, want 2, 1", d.Young.Objects, d.YoungCollections)
	}
}

func TestManyShortLivedObjects(t *testing.T) {
	om, m := newTestMemory(t)

	for i := 0; i < 10000; i++ {
		mustNew(t, om, m, oop.PlainObject)
		m.Checkpoint()
	}
	om.CollectYoung(m)

	d := om.Diagnostics()
	if d.Young.Objects != 0 || d.Young.Bytes != 0 {
		t.Errorf("young space holds %d objects, %d bytes, want none", d.Young.Objects, d.Young.Bytes)
	}
	if d.YoungCollections < 2 {
		t.Errorf("%d young collections, want the nursery to fill at least once", d.YoungCollections)
	}
}

func TestPromotion(t *testing.T) {
	om, m := newTestMemory(t)

	root := oop.Ref(mustNewFields(t, om, m, 1))
	m.PushRoot(&root)
	defer m.PopRoot()

	for i := 1; i < om.cfg.PromotionAge; i++ {
		om.CollectYoung(m)
		if !root.Object().IsYoung() || root.Object().Age() != i {
			t.Fatalf("after %d collections: zone %v age %d", i, root.Object().Zone(), root.Object().Age())
		}
	}
	om.CollectYoung(m)
	old := root.Object()
	if got := om.ValidateObject(old); got != InMature {
		t.Fatalf("ValidateObject returned %v after %d collections, want %v", got, om.cfg.PromotionAge, InMature)
	}
	if d := om.Diagnostics(); d.Promoted != 1 {
		t.Errorf("Promoted returned %d, want 1", d.Promoted)
	}

	// A young object reachable only from a mature one survives through the
	// remembered set.
	young := mustNewFields(t, om, m, 1)
	young.InitField(0, oop.Fixnum(5))
	old.SetField(om, 0, oop.Ref(young))
	if !old.Remembered() || om.RememberedSetSize() == 0 {
		t.Fatalf("storing a young value did not remember the mature object")
	}
	om.CollectYoung(m)
	moved := old.Field(0).Object()
	if moved == nil || moved == young || !om.ValidObject(moved) {
		t.Fatalf("young object referenced from the mature space was not kept")
	}
	if moved.Field(0).FixnumValue() != 5 {
		t.Errorf("moved object field returned %v, want 5", moved.Field(0))
	}
	if !old.Remembered() {
		t.Errorf("mature object still referring to a young one was dropped from the remembered set")
	}

	old.SetField(om, 0, oop.Nil)
	om.CollectYoung(m)
	if old.Remembered() || om.RememberedSetSize() != 0 {
		t.Errorf("remembered set has %d entries after the young reference was cleared", om.RememberedSetSize())
	}
}

func TestMatureCollection(t *testing.T) {
	om, m := newTestMemory(t)

	kept := mustNewPinned(t, om, m, 1)
	child := mustNewPinned(t, om, m, 0)
	kept.SetField(om, 0, oop.Ref(child))
	lost := mustNewPinned(t, om, m, 0)

	viaYoung := mustNewPinned(t, om, m, 0)
	holder := mustNewFields(t, om, m, 1)
	holder.InitField(0, oop.Ref(viaYoung))

	roots := []oop.Value{oop.Ref(kept), oop.Ref(holder)}
	for i := range roots {
		m.PushRoot(&roots[i])
	}

	om.CollectFull(m)

	for name, obj := range map[string]*oop.Object{"root": kept, "child": child, "referenced from young": viaYoung} {
		if got := om.ValidateObject(obj); got != InMature {
			t.Errorf("%s object: ValidateObject returned %v, want %v", name, got, InMature)
		}
	}
	if om.ValidObject(lost) {
		t.Errorf("unreachable mature object survived a full collection")
	}
	if roots[0].Object() != kept {
		t.Errorf("pinned object moved")
	}
	if d := om.Diagnostics(); d.MatureCollections != 1 || d.Mature.Objects != 3 {
		t.Errorf("%d mature collections, %d mature objects, want 1, 3", d.MatureCollections, d.Mature.Objects)
	}

	// A second cycle uses the other mark value and must not take the marks
	// of the first one as its own.
	m.PopRoot()
	om.CollectFull(m)
	if om.ValidObject(viaYoung) {
		t.Errorf("object that became unreachable survived the second cycle")
	}
	if !om.ValidObject(kept) || !om.ValidObject(child) {
		t.Errorf("reachable objects were freed by the second cycle")
	}
	m.PopRoot()
}

func TestLargeObject(t *testing.T) {
	om, m := newTestMemory(t)

	obj, err := om.NewBytes(m, oop.ByteArray, nil, 8000)
	if err != nil {
		t.Fatal(err)
	}
	obj.Bytes()[0] = 0xaa
	addr := obj.Address()
	root := oop.Ref(obj)
	m.PushRoot(&root)
	defer m.PopRoot()

	for i := 0; i < 3; i++ {
		if got := om.ValidateObject(obj); got != InLarge {
			t.Fatalf("collection %d: ValidateObject returned %v, want %v", i, got, InLarge)
		}
		om.CollectFull(m)
	}
	if root.Object() != obj || obj.Address() != addr || obj.Bytes()[0] != 0xaa {
		t.Errorf("large object moved or changed")
	}

	free := om.large.freeBytes()
	m.PopRoot()
	om.CollectFull(m)
	root = oop.Nil
	m.PushRoot(&root)
	if om.ValidObject(obj) {
		t.Errorf("unreachable large object survived")
	}
	if om.large.freeBytes() <= free {
		t.Errorf("large space free bytes %d, was %d before the sweep", om.large.freeBytes(), free)
	}
}

func TestPinnedObjectsDoNotMove(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewPinned(t, om, m, 1)
	if !obj.Pinned() {
		t.Fatalf("pinned allocation is not pinned")
	}
	root := oop.Ref(obj)
	m.PushRoot(&root)
	defer m.PopRoot()

	om.CollectYoung(m)
	om.CollectFull(m)
	if root.Object() != obj || !om.ValidObject(obj) {
		t.Errorf("pinned object moved or died")
	}
}

func TestOutOfMemory(t *testing.T) {
	om, m := newTestMemory(t, func(cfg *config.Config) {
		cfg.LargeBytes = 64 * config.Size(bytesize.KB)
	})

	_, err := om.NewBytes(m, oop.ByteArray, nil, 100*1024)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("NewBytes returned %v, want ErrOutOfMemory", err)
	}
	if !strings.Contains(err.Error(), "allocating ByteArray") {
		t.Errorf("error %q does not name the kind", err)
	}
	if !om.collectMatureNow.Load() {
		t.Errorf("failed allocation did not request a mature collection")
	}
}

func TestOutOfMemoryDuringPromotion(t *testing.T) {
	om, m := newTestMemory(t, func(cfg *config.Config) {
		cfg.ImmixBytes = 128 * config.Size(bytesize.KB)
		cfg.YoungBytes = 64 * config.Size(bytesize.KB)
		cfg.LargeBytes = 8 * config.Size(bytesize.KB)
		cfg.PromotionAge = 1
	})

	// A live young object that must be promoted by the next collection.
	root := oop.Ref(mustNewFields(t, om, m, 200))
	m.PushRoot(&root)
	defer m.PopRoot()

	// Fill the mature and large object spaces with small objects.
	var err error
	for i := 0; i < 100000 && err == nil; i++ {
		_, err = om.NewFieldsPinned(m, oop.TupleKind, nil, 0)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("filling the heap ended with %v, want ErrOutOfMemory", err)
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrOutOfMemory) {
			t.Errorf("young collection panicked with %v, want ErrOutOfMemory", r)
		}
	}()
	om.CollectYoung(m)
	t.Errorf("young collection promoted into a full heap")
}

func TestInhibitGC(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewFields(t, om, m, 0)
	root := oop.Ref(obj)
	m.PushRoot(&root)
	defer m.PopRoot()

	restore := om.InhibitGC()
	inner := om.InhibitGC()
	om.CollectYoung(m)
	inner()
	inner()
	if om.CanGC() {
		t.Fatalf("CanGC returned true with one inhibitor left")
	}
	om.CollectFull(m)
	if root.Object() != obj || om.Diagnostics().YoungCollections != 0 {
		t.Fatalf("collection ran while inhibited")
	}

	restore()
	if !om.CanGC() {
		t.Fatalf("CanGC returned false after restore")
	}
	// The request made while inhibited is still pending.
	m.Checkpoint()
	if root.Object() == obj {
		t.Errorf("pending young collection did not run after restore")
	}
}

func TestStress(t *testing.T) {
	om, m := newTestMemory(t, func(cfg *config.Config) {
		cfg.Stress = true
	})

	var head oop.Value
	m.PushRoot(&head)
	defer m.PopRoot()
	for i := 0; i < 2000; i++ {
		obj := mustNewFields(t, om, m, 2)
		obj.InitField(0, head)
		obj.InitField(1, oop.Fixnum(int64(i)))
		head = oop.Ref(obj)
		m.Checkpoint()
	}
	checkList(t, head, 2000)

	d := om.Diagnostics()
	if d.YoungCollections < 10 || d.MatureCollections == 0 {
		t.Errorf("stress mode ran %d young and %d mature collections", d.YoungCollections, d.MatureCollections)
	}
}

// checkList walks a list built newest first and checks its values count
// down from n-1.
func checkList(t *testing.T, head oop.Value, n int) {
	t.Helper()
	want := int64(n - 1)
	for v := head; v.IsReference(); v = v.Object().Field(0) {
		obj := v.Object()
		if obj.Zone() == oop.UnspecifiedZone {
			t.Fatalf("list element %d is a dead object", want)
		}
		if got := obj.Field(1).FixnumValue(); got != want {
			t.Fatalf("list element returned %d, want %d", got, want)
		}
		want--
	}
	if want != -1 {
		t.Errorf("list ended early, %d elements missing", want+1)
	}
}

func TestConcurrentMutators(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		name := "sync"
		if concurrent {
			name = "concurrent"
		}
		t.Run(name, func(t *testing.T) {
			om, m := newTestMemory(t, func(cfg *config.Config) {
				cfg.Concurrent = concurrent
				cfg.MatureTrigger = 128 * config.Size(bytesize.KB)
			})

			const workers, length = 4, 3000
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					wm := om.NewMutator()
					defer wm.Close()
					var head oop.Value
					wm.PushRoot(&head)
					for j := 0; j < length; j++ {
						obj, err := om.NewFields(wm, oop.TupleKind, nil, 2)
						if err != nil {
							t.Error(err)
							return
						}
						obj.InitField(0, head)
						obj.InitField(1, oop.Fixnum(int64(j)))
						head = oop.Ref(obj)
						// Garbage between the list elements.
						if _, err := om.NewFields(wm, oop.TupleKind, nil, 4); err != nil {
							t.Error(err)
							return
						}
						wm.Checkpoint()
					}
					checkList(t, head, length)
				}()
			}
			m.Blocking(wg.Wait)

			d := om.Diagnostics()
			if d.YoungCollections == 0 || (d.MatureCollections == 0 && !d.MatureInProgress) {
				t.Errorf("%d young and %d mature collections", d.YoungCollections, d.MatureCollections)
			}
		})
	}
}

func TestNewMutatorDuringCollection(t *testing.T) {
	om, m := newTestMemory(t)
	collector := om.NewMutator()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer collector.Close()
		for i := 0; i < 200; i++ {
			om.CollectYoung(collector)
		}
	}()

	created := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		child := m.NewMutator()
		if _, err := om.NewFields(child, oop.TupleKind, nil, 1); err != nil {
			t.Fatal(err)
		}
		child.Close()
		created++
		m.Checkpoint()
	}
	if created == 0 || om.Diagnostics().YoungCollections < 200 {
		t.Errorf("created %d mutators across %d young collections", created, om.Diagnostics().YoungCollections)
	}
}
