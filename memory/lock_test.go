package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/tinygo-org/objectmemory/oop"
)

func TestLockRecursion(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)

	const depth = oop.MaxThinLockCount + 45
	for i := 0; i < depth; i++ {
		if got := om.Lock(m, obj, 0, false); got != LockAcquired {
			t.Fatalf("Lock %d returned %v", i, got)
		}
	}
	if obj.Inflated() == nil {
		t.Errorf("lock count above %d did not inflate the header", oop.MaxThinLockCount)
	}
	if owner, count := om.LockOwner(obj); owner != m.ID() || count != depth {
		t.Errorf("LockOwner returned %d/%d, want %d/%d", owner, count, m.ID(), depth)
	}
	for i := 0; i < depth; i++ {
		if got := om.Unlock(m, obj); got != LockUnlocked {
			t.Fatalf("Unlock %d returned %v", i, got)
		}
	}
	if owner, count := om.LockOwner(obj); owner != 0 || count != 0 {
		t.Errorf("LockOwner returned %d/%d after releasing, want 0/0", owner, count)
	}
	if got := om.Unlock(m, obj); got != LockError {
		t.Errorf("Unlock of a free monitor returned %v, want %v", got, LockError)
	}
}

func TestThinLock(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)

	if !om.TryLock(m, obj) || !om.TryLock(m, obj) {
		t.Fatalf("TryLock of a free monitor failed")
	}
	if obj.Inflated() != nil {
		t.Errorf("uncontended lock inflated the header")
	}
	if owner, count := om.LockOwner(obj); owner != m.ID() || count != 2 {
		t.Errorf("LockOwner returned %d/%d, want %d/2", owner, count, m.ID())
	}
	om.Unlock(m, obj)
	om.Unlock(m, obj)

	// The lock state survives a copy.
	young := mustNewFields(t, om, m, 0)
	root := oop.Ref(young)
	m.PushRoot(&root)
	defer m.PopRoot()
	om.Lock(m, young, 0, false)
	om.CollectYoung(m)
	if owner, _ := om.LockOwner(root.Object()); owner != m.ID() {
		t.Errorf("lock owner after a young collection is %d, want %d", owner, m.ID())
	}
	if got := om.Unlock(m, root.Object()); got != LockUnlocked {
		t.Errorf("Unlock of the moved object returned %v", got)
	}
}

func TestUnlockByOtherThread(t *testing.T) {
	om, m := newTestMemory(t)
	other := om.NewMutator()
	defer other.Close()
	obj := mustNewPinned(t, om, m, 0)

	om.Lock(m, obj, 0, false)
	if got := om.Unlock(other, obj); got != LockError {
		t.Errorf("thin Unlock by another thread returned %v, want %v", got, LockError)
	}
	if om.TryLock(other, obj) {
		t.Errorf("TryLock of a held monitor succeeded")
	}

	om.InflateForContention(obj)
	if got := om.Unlock(other, obj); got != LockError {
		t.Errorf("inflated Unlock by another thread returned %v, want %v", got, LockError)
	}
	if got := om.Unlock(m, obj); got != LockUnlocked {
		t.Errorf("Unlock by the owner returned %v", got)
	}
	if !om.TryLock(other, obj) {
		t.Errorf("TryLock of a released inflated monitor failed")
	}
}

// waitForWaiters polls until obj has n threads queued on its monitor.
func waitForWaiters(t *testing.T, obj *oop.Object, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ih := obj.Inflated(); ih != nil && ih.Waiters() == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLockTimeout(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)
	om.Lock(m, obj, 0, false)

	result := make(chan LockStatus)
	go func() {
		other := om.NewMutator()
		defer other.Close()
		result <- om.Lock(other, obj, 20*time.Millisecond, false)
	}()
	var got LockStatus
	m.Blocking(func() { got = <-result })
	if got != LockTimeout {
		t.Errorf("Lock returned %v, want %v", got, LockTimeout)
	}
	if ih := obj.Inflated(); ih == nil || ih.Waiters() != 0 {
		t.Errorf("timed out waiter was left in the queue")
	}
	if owner, _ := om.LockOwner(obj); owner != m.ID() {
		t.Errorf("lock owner changed to %d", owner)
	}
}

func TestLockInterrupt(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)
	om.Lock(m, obj, 0, false)

	ready := make(chan *Mutator)
	result := make(chan LockStatus)
	go func() {
		other := om.NewMutator()
		defer other.Close()
		ready <- other
		result <- om.Lock(other, obj, 0, true)
	}()
	var other *Mutator
	m.Blocking(func() { other = <-ready })
	waitForWaiters(t, obj, 1)
	other.Interrupt()

	var got LockStatus
	m.Blocking(func() { got = <-result })
	if got != LockInterrupted {
		t.Errorf("Lock returned %v, want %v", got, LockInterrupted)
	}
	if got := om.Unlock(m, obj); got != LockUnlocked {
		t.Errorf("Unlock returned %v", got)
	}
}

func TestLockContention(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)

	const threads, rounds = 8, 200
	var (
		wg      sync.WaitGroup
		counter int
		inside  int
	)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tm := om.NewMutator()
			defer tm.Close()
			for j := 0; j < rounds; j++ {
				if got := om.Lock(tm, obj, 0, false); got != LockAcquired {
					t.Errorf("Lock returned %v", got)
					return
				}
				inside++
				if inside != 1 {
					t.Errorf("%d threads inside the monitor", inside)
				}
				counter++
				inside--
				if got := om.Unlock(tm, obj); got != LockUnlocked {
					t.Errorf("Unlock returned %v", got)
					return
				}
			}
		}()
	}
	m.Blocking(wg.Wait)

	if counter != threads*rounds {
		t.Errorf("counter is %d, want %d", counter, threads*rounds)
	}
	if owner, count := om.LockOwner(obj); owner != 0 || count != 0 {
		t.Errorf("LockOwner returned %d/%d after all threads finished", owner, count)
	}
}

func TestInflateHeaderOnce(t *testing.T) {
	om, m := newTestMemory(t)
	obj := mustNewPinned(t, om, m, 0)

	const n = 16
	results := make([]*oop.InflatedHeader, n)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = om.InflateHeader(obj)
		}(i)
	}
	wg.Wait()

	for i, ih := range results {
		if ih == nil || ih != results[0] {
			t.Fatalf("InflateHeader call %d returned a different record", i)
		}
	}
	if results[0].Object() != obj || obj.Inflated() != results[0] {
		t.Errorf("inflated header is not linked to its object")
	}
	if got := om.InflatedHeaders(); got != 1 {
		t.Errorf("InflatedHeaders returned %d, want 1", got)
	}
}

func TestObjectID(t *testing.T) {
	om, m := newTestMemory(t)

	obj := mustNewFields(t, om, m, 0)
	root := oop.Ref(obj)
	m.PushRoot(&root)
	defer m.PopRoot()
	id := om.ObjectID(obj)
	if id == 0 {
		t.Fatalf("ObjectID returned 0")
	}
	if again := om.ObjectID(obj); again != id {
		t.Errorf("ObjectID changed from %d to %d", id, again)
	}
	other := mustNewFields(t, om, m, 0)
	if om.ObjectID(other) == id {
		t.Errorf("two objects share id %d", id)
	}

	om.CollectYoung(m)
	if root.Object() == obj {
		t.Fatalf("object did not move")
	}
	if got := om.ObjectID(root.Object()); got != id {
		t.Errorf("ObjectID after relocation returned %d, want %d", got, id)
	}
	// The unreachable object's header was released.
	if got := om.InflatedHeaders(); got != 1 {
		t.Errorf("InflatedHeaders returned %d, want 1", got)
	}
}
