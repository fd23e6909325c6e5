package main

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinygo-org/objectmemory/memory"
	"github.com/tinygo-org/objectmemory/oop"
)

// machineCode is an x86 ret instruction. It is never executed.
var machineCode = []byte{0xc3}

const lockTimeout = 10 * time.Millisecond

type workload struct {
	mutators      int
	iterations    int
	live          int
	largeEvery    int
	lockEvery     int
	finalizeEvery int
	codeEvery     int
}

type workloadResult struct {
	allocations  uint64
	finalized    uint64
	lockTimeouts uint64
	err          error
}

type counters struct {
	allocations  atomic.Uint64
	finalized    atomic.Uint64
	lockTimeouts atomic.Uint64
}

// run starts the mutator threads and a finalizer thread and waits for the
// mutators to finish. The caller must not hold the heap: run is meant to be
// called in a blocking region.
func (w *workload) run(om *memory.ObjectMemory, logger *slog.Logger) workloadResult {
	if w.mutators <= 0 || w.live <= 0 {
		return workloadResult{err: fmt.Errorf("need at least one mutator and one live object")}
	}
	var c counters

	fm := om.NewMutator()
	shared, err := om.NewPinned(fm, oop.PlainObject, nil)
	if err != nil {
		fm.Close()
		return workloadResult{err: err}
	}
	sharedRoot := oop.Ref(shared)
	om.AddGlobalRoot(&sharedRoot)
	defer om.RemoveGlobalRoot(&sharedRoot)

	done := make(chan struct{})
	finalizerDone := make(chan struct{})
	go func() {
		defer close(finalizerDone)
		defer fm.Close()
		runFinalizers(om, fm, done)
	}()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	for i := 0; i < w.mutators; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m := om.NewMutator()
			defer m.Close()
			if err := w.mutate(om, m, shared, &c); err != nil {
				errOnce.Do(func() { runErr = fmt.Errorf("mutator %d: %w", id, err) })
				return
			}
			logger.Debug("mutator done", slog.Int("mutator", id))
		}(i)
	}
	wg.Wait()
	close(done)
	<-finalizerDone

	return workloadResult{
		allocations:  c.allocations.Load(),
		finalized:    c.finalized.Load(),
		lockTimeouts: c.lockTimeouts.Load(),
		err:          runErr,
	}
}

// mutate is the allocation loop of one mutator. It keeps a ring of live
// objects and replaces one entry per iteration, so every new object lives
// for w.live iterations.
func (w *workload) mutate(om *memory.ObjectMemory, m *memory.Mutator, shared *oop.Object, c *counters) error {
	ring, err := om.NewFieldsPinned(m, oop.TupleKind, nil, w.live)
	if err != nil {
		return err
	}
	root := oop.Ref(ring)
	m.PushRoot(&root)
	defer m.PopRoot()

	for i := 1; i <= w.iterations; i++ {
		slot := i % w.live
		obj, err := om.NewFields(m, oop.TupleKind, nil, 2)
		if err != nil {
			return err
		}
		obj.InitField(0, oop.Fixnum(int64(i)))
		obj.InitField(1, ring.Field((slot+1)%w.live))
		ring.SetField(om, slot, oop.Ref(obj))
		c.allocations.Add(1)

		if every(i, w.largeEvery) {
			size := int(om.Config().LargeObjectThreshold) + 1
			large, err := om.NewBytes(m, oop.ByteArray, nil, size)
			if err != nil {
				return err
			}
			ring.SetField(om, (slot+w.live/2)%w.live, oop.Ref(large))
			c.allocations.Add(1)
		}
		if every(i, w.finalizeEvery) {
			om.NeedsFinalization(obj, func(*oop.Object) {
				c.finalized.Add(1)
			}, memory.FinalizeNative)
		}
		if every(i, w.codeEvery) {
			owner, err := om.New(m, oop.CodeKind, nil)
			if err != nil {
				return err
			}
			code, err := memory.NewMachineCode(machineCode)
			if err != nil {
				return err
			}
			if err := code.Seal(); err != nil {
				code.Cleanup()
				return err
			}
			om.AddCodeResource(owner, code)
			obj.SetField(om, 1, oop.Ref(owner))
			c.allocations.Add(1)
		}
		if every(i, w.lockEvery) {
			switch status := om.Lock(m, shared, lockTimeout, false); status {
			case memory.LockAcquired:
				if status := om.Unlock(m, shared); status != memory.LockUnlocked {
					return fmt.Errorf("unlock: %v", status)
				}
			case memory.LockTimeout:
				c.lockTimeouts.Add(1)
			default:
				return fmt.Errorf("lock: %v", status)
			}
		}
		m.Checkpoint()
	}
	return nil
}

// runFinalizers runs due finalizers on m until done is closed. A last full
// collection finalizes whatever the mutators left behind.
func runFinalizers(om *memory.ObjectMemory, m *memory.Mutator, done <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		for _, work := range om.PendingFinalizers() {
			work.Run(m, nil)
		}
		m.Checkpoint()
		stop := false
		m.Blocking(func() {
			select {
			case <-done:
				stop = true
			case <-ticker.C:
			}
		})
		if stop {
			break
		}
	}
	om.CollectFull(m)
	for _, work := range om.PendingFinalizers() {
		work.Run(m, nil)
	}
}

func every(i, n int) bool {
	return n > 0 && i%n == 0
}
