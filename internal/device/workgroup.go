package device

import (
	"errors"
	"fmt"
	"sync"
)

var errBarrierBroken = errors.New("barrier broken by a failed lane")

// WorkItem identifies one lane of a launch and gives it access to its
// work-group's shared memory and barrier.
type WorkItem struct {
	GlobalID   int
	LocalID    int
	GroupID    int
	LocalSize  int
	GlobalSize int
	NumGroups  int

	group *workGroup
}

// Barrier blocks until every live lane of the work-group has reached it.
func (wi *WorkItem) Barrier() {
	wi.group.barrier.wait()
}

// Local returns the work-group's shared array declared as var<workgroup> name.
func (wi *WorkItem) Local(name string) []uint32 {
	mem, ok := wi.group.local[name]
	if !ok {
		panic(fmt.Sprintf("workgroup variable %q is not bound to %s", name, wi.group.kernel.name))
	}
	return mem
}

// Const returns a compile-time constant of the running program.
func (wi *WorkItem) Const(name string) uint32 {
	v, ok := wi.group.kernel.Const(name)
	if !ok {
		panic(fmt.Sprintf("constant %s is not defined for %s", name, wi.group.kernel.name))
	}
	return uint32(v)
}

type workGroup struct {
	kernel  *Kernel
	local   map[string][]uint32
	barrier *barrier
}

// barrier is a reusable barrier over the lanes of one work-group. Lanes that
// return leave the barrier so the rest are not left waiting for them.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	broken     bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		panic(errBarrierBroken)
	}
	gen := b.generation
	b.arrived++
	if b.arrived >= b.parties {
		b.trip()
		return
	}
	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if b.broken && gen == b.generation {
		panic(errBarrierBroken)
	}
}

// leave removes a finished lane from the barrier.
func (b *barrier) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	if b.arrived > 0 && b.arrived >= b.parties {
		b.trip()
	}
}

// abort wakes every waiter with errBarrierBroken.
func (b *barrier) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = true
	b.cond.Broadcast()
}

func (b *barrier) trip() {
	b.arrived = 0
	b.generation++
	b.cond.Broadcast()
}
