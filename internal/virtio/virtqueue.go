// Package virtio implements the MMIO transport device probe and
// virtqueue ring management of spec.md §4.9, hosted over the simulated
// MMIO register file in internal/hal instead of the teacher's
// unsafe.Pointer-indexed descriptor table.
package virtio

import (
	"github.com/sasha-s/go-deadlock"
)

// Descriptor flags (spec.md §4.9; numerically identical to the VirtIO 1.2
// spec and to mazarin/virtqueue.go's VIRTQ_DESC_F_* constants).
const (
	DescFNext     = 1 << 0
	DescFWrite    = 1 << 1
	DescFIndirect = 1 << 2
)

const (
	AvailFNoInterrupt = 1 << 0
	UsedFNoNotify     = 1 << 0
)

const descEndOfChain = 0xFFFF

// Desc is one virtqueue descriptor (spec.md §3). Addr is an offset into
// the guest-visible DMA arena rather than a physical address, matching
// this module's hosted-memory model.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

type usedElem struct {
	ID  uint32
	Len uint32
}

// Queue is a hosted virtqueue: a descriptor table, available ring, and
// used ring, each a plain Go slice instead of the teacher's three
// separately kmalloc'd, alignment-padded byte regions — grounded on
// mazarin/virtqueue.go's VirtQueue/virtqueueInit/virtqueueAddDesc/
// virtqueueGetUsed family, adapted to slice indices.
type Queue struct {
	mu           deadlock.Mutex
	size         uint16
	desc         []Desc
	availFlags   uint16
	availIdx     uint16
	availRing    []uint16
	usedFlags    uint16
	usedIdx      uint16
	usedRing     []usedElem
	freeHead     uint16
	numFree      uint16
	lastUsedIdx  uint16
}

// NewQueue builds a queue of the given size, which must be a power of two
// (spec.md §4.9, matching mazarin's virtqueueInit check).
func NewQueue(size uint16) (*Queue, bool) {
	if size == 0 || size&(size-1) != 0 {
		return nil, false
	}
	q := &Queue{
		size:      size,
		desc:      make([]Desc, size),
		availRing: make([]uint16, size),
		usedRing:  make([]usedElem, size),
		numFree:   size,
	}
	for i := uint16(0); i < size-1; i++ {
		q.desc[i].Next = i + 1
	}
	q.desc[size-1].Next = descEndOfChain
	return q, true
}

func (q *Queue) Size() uint16 { return q.size }

// AddDesc allocates a free descriptor and fills it in, mirroring
// virtqueueAddDesc. Returns descEndOfChain if the queue has no free
// descriptor.
func (q *Queue) AddDesc(addr uint64, length uint32, flags uint16, next uint16) uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.numFree == 0 {
		return descEndOfChain
	}
	idx := q.freeHead
	q.freeHead = q.desc[idx].Next
	q.numFree--
	q.desc[idx] = Desc{Addr: addr, Len: length, Flags: flags, Next: next}
	return idx
}

// PublishAvailable appends descIdx to the available ring and bumps the
// available index — the guest-side half of virtqueueAddToAvailable. The
// memory-barrier mazarin issues via dsb() before bumping the index is
// unnecessary on a single hosted goroutine scheduler with a real mutex
// already serializing access, so it's elided here (the mutex provides a
// strictly stronger ordering guarantee).
func (q *Queue) PublishAvailable(descIdx uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.availRing[q.availIdx%q.size] = descIdx
	q.availIdx++
}

// ConsumeAvailable is the device side: pops the next available descriptor
// chain head, or ok=false if the guest hasn't published anything new.
func (q *Queue) ConsumeAvailable(deviceLastAvail *uint16) (descIdx uint16, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if *deviceLastAvail == q.availIdx {
		return 0, false
	}
	descIdx = q.availRing[*deviceLastAvail%q.size]
	*deviceLastAvail++
	return descIdx, true
}

// PublishUsed is the device side completing a chain, mirroring the device
// half of the VirtIO used-ring protocol (not modeled on the teacher, which
// only implements the guest side — spec.md §4.9 requires both directions
// for the hosted consumers in this package).
func (q *Queue) PublishUsed(descIdx uint32, length uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usedRing[q.usedIdx%q.size] = usedElem{ID: descIdx, Len: length}
	q.usedIdx++
}

// HasUsed mirrors virtqueueHasUsed.
func (q *Queue) HasUsed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usedIdx != q.lastUsedIdx
}

// GetUsed mirrors virtqueueGetUsed, additionally freeing the descriptor
// chain it reclaims (the teacher leaves that TODO'd as "simplified").
func (q *Queue) GetUsed() (descIdx uint32, length uint32, ok bool) {
	q.mu.Lock()
	if q.usedIdx == q.lastUsedIdx {
		q.mu.Unlock()
		return 0, 0, false
	}
	elem := q.usedRing[q.lastUsedIdx%q.size]
	q.lastUsedIdx++
	q.mu.Unlock()
	q.FreeDescChain(uint16(elem.ID))
	return elem.ID, elem.Len, true
}

// FreeDescChain walks the chain starting at descIdx and returns every
// descriptor in it to the free list, mirroring virtqueueFreeDescChain.
func (q *Queue) FreeDescChain(descIdx uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := descIdx
	for {
		d := &q.desc[cur]
		next := d.Next
		hasNext := d.Flags&DescFNext != 0
		d.Next = q.freeHead
		q.freeHead = cur
		q.numFree++
		if !hasNext || next == descEndOfChain {
			break
		}
		cur = next
	}
}

func (q *Queue) NumFree() uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numFree
}
