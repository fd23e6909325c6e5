package memory

import (
	"testing"

	"github.com/tinygo-org/objectmemory/oop"
)

func TestNativeFinalizerRunsOnce(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewFields(t, om, m, 1)
	obj.InitField(0, oop.Ref(mustNewFields(t, om, m, 0)))
	var finalized []*oop.Object
	om.NeedsFinalization(obj, func(obj *oop.Object) {
		finalized = append(finalized, obj)
	}, FinalizeNative)
	if !obj.NeedsFinalization() {
		t.Fatalf("NeedsFinalization flag not set")
	}

	om.CollectYoung(m)
	if registered, due := om.Finalizers(); registered != 0 || due != 1 {
		t.Fatalf("Finalizers returned %d registered, %d due, want 0, 1", registered, due)
	}
	work := om.PendingFinalizers()
	if len(work) != 1 || work[0].Object != obj || work[0].Kind != FinalizeNative {
		t.Fatalf("PendingFinalizers returned %v", work)
	}
	if obj.Field(0).IsReference() || obj.Zone() != oop.UnspecifiedZone {
		t.Errorf("finalized object was not detached from the heap")
	}
	if !work[0].Run(m, nil) {
		t.Errorf("first Run did not run the finalizer")
	}
	if work[0].Run(m, nil) {
		t.Errorf("second Run ran the finalizer again")
	}
	if len(finalized) != 1 || finalized[0] != obj {
		t.Errorf("finalizer ran %d times", len(finalized))
	}
	if _, due := om.Finalizers(); due != 0 {
		t.Errorf("%d finalizers still due after running", due)
	}
	if len(om.PendingFinalizers()) != 0 {
		t.Errorf("work was handed out twice")
	}
}

func TestFinalizerOfLiveObject(t *testing.T) {
	om, m := newTestMemory(t)

	root := oop.Ref(mustNewFields(t, om, m, 0))
	m.PushRoot(&root)
	ran := 0
	om.NeedsFinalization(root.Object(), func(*oop.Object) { ran++ }, FinalizeNative)

	om.CollectYoung(m)
	om.CollectFull(m)
	if registered, due := om.Finalizers(); registered != 1 || due != 0 {
		t.Fatalf("Finalizers returned %d registered, %d due, want 1, 0", registered, due)
	}

	// The record followed the object; dropping the root finalizes the copy.
	moved := root.Object()
	m.PopRoot()
	om.CollectYoung(m)
	work := om.PendingFinalizers()
	if len(work) != 1 || work[0].Object != moved {
		t.Fatalf("PendingFinalizers returned %d entries, want the moved object", len(work))
	}
	work[0].Run(m, nil)
	if ran != 1 {
		t.Errorf("finalizer ran %d times, want 1", ran)
	}
}

func TestManagedFinalizer(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewPinned(t, om, m, 0)
	finalizer := mustNewFields(t, om, m, 1)
	finalizer.InitField(0, oop.Symbol(3))
	om.SetFinalizer(obj, finalizer)

	om.CollectYoung(m)
	if len(om.PendingFinalizers()) != 0 {
		t.Fatalf("mature object was finalized by a young collection")
	}
	om.CollectFull(m)
	work := om.PendingFinalizers()
	if len(work) != 1 || work[0].Kind != FinalizeManaged {
		t.Fatalf("PendingFinalizers returned %d entries", len(work))
	}
	f := work[0].Finalizer()
	if f == nil || !om.ValidObject(f) || f.Field(0).SymbolID() != 3 {
		t.Fatalf("finalizer object was not kept alive")
	}

	// The finalizer object stays a root until the work has run.
	om.CollectFull(m)
	if !om.ValidObject(work[0].Finalizer()) {
		t.Fatalf("finalizer object died while its work was pending")
	}
	var calls int
	work[0].Run(m, func(_ *Mutator, fin, dead *oop.Object) {
		calls++
		if fin != work[0].Finalizer() || dead != obj {
			t.Errorf("call received the wrong objects")
		}
	})
	if calls != 1 {
		t.Errorf("managed finalizer called %d times", calls)
	}
}

func TestRemoveManagedFinalizer(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewFields(t, om, m, 0)
	om.SetFinalizer(obj, mustNewFields(t, om, m, 0))
	om.SetFinalizer(obj, nil)
	if obj.NeedsFinalization() {
		t.Errorf("flag still set after the finalizer was removed")
	}
	om.CollectYoung(m)
	if registered, due := om.Finalizers(); registered != 0 || due != 0 {
		t.Errorf("Finalizers returned %d registered, %d due, want none", registered, due)
	}
}

type testCode struct {
	size    uintptr
	cleaned int
}

func (c *testCode) Size() uintptr { return c.size }
func (c *testCode) Cleanup()      { c.cleaned++ }

func TestCodeResources(t *testing.T) {
	om, m := newTestMemory(t)

	owner := mustNew(t, om, m, oop.CodeKind)
	root := oop.Ref(owner)
	m.PushRoot(&root)
	kept := &testCode{size: 128}
	om.AddCodeResource(owner, kept)

	freed := &testCode{size: 64}
	om.AddCodeResource(mustNew(t, om, m, oop.CodeKind), freed)
	large := &testCode{size: 512}
	om.AddCodeResource(mustNewPinned(t, om, m, 0), large)

	om.CollectYoung(m)
	if freed.cleaned != 1 || kept.cleaned != 0 || large.cleaned != 0 {
		t.Fatalf("after young collection: cleaned %d/%d/%d, want 1/0/0", freed.cleaned, kept.cleaned, large.cleaned)
	}
	om.CollectFull(m)
	if large.cleaned != 1 || kept.cleaned != 0 {
		t.Errorf("after full collection: cleaned %d/%d, want 1/0", large.cleaned, kept.cleaned)
	}
	resources, bytes, count, freedBytes := om.CodeManager().Stats()
	if resources != 1 || bytes != 128 || count != 2 || freedBytes != 576 {
		t.Errorf("Stats returned %d, %d, %d, %d", resources, bytes, count, freedBytes)
	}

	m.PopRoot()
	om.CollectFull(m)
	if kept.cleaned != 1 {
		t.Errorf("resource of a dead moved owner cleaned %d times", kept.cleaned)
	}
}
