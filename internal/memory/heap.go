package memory

import (
	"encoding/binary"

	"github.com/go-errors/errors"
	"github.com/sasha-s/go-deadlock"
)

// segment is the header mazarin/heap.go's heapSegment becomes once the
// backing store is an Arena byte slice instead of raw physical memory:
// next/prev are now byte offsets into the arena, with nilOff standing in
// for a nil pointer (the heap's head segment legitimately sits at offset
// 0, so 0 cannot double as "no such segment" the way a real nil pointer
// would). The best-fit search, split-on-oversize, and coalesce-on-free
// algorithm are unchanged from the teacher.
const segHeaderSize = 16 // next(4) + prev(4) + allocated(1) + pad(3) + size(4)

// nilOff marks an absent next/prev link.
const nilOff uint32 = 0xFFFFFFFF

type segView struct {
	buf []byte
}

func segAt(arena []byte, off uint32) segView { return segView{buf: arena[off:]} }

func (s segView) next() uint32      { return binary.LittleEndian.Uint32(s.buf[0:4]) }
func (s segView) setNext(v uint32)  { binary.LittleEndian.PutUint32(s.buf[0:4], v) }
func (s segView) prev() uint32      { return binary.LittleEndian.Uint32(s.buf[4:8]) }
func (s segView) setPrev(v uint32)  { binary.LittleEndian.PutUint32(s.buf[4:8], v) }
func (s segView) allocated() bool   { return s.buf[8] != 0 }
func (s segView) setAllocated(b bool) {
	if b {
		s.buf[8] = 1
	} else {
		s.buf[8] = 0
	}
}
func (s segView) size() uint32     { return binary.LittleEndian.Uint32(s.buf[12:16]) }
func (s segView) setSize(v uint32) { binary.LittleEndian.PutUint32(s.buf[12:16], v) }

// Heap is the kernel heap backing alloc::* operations (spec.md §4.1),
// a best-fit free-list allocator over a byte-slice arena region —
// mazarin/heap.go's kmalloc/kfree algorithm, unchanged, with arena byte
// offsets in place of pointers.
type Heap struct {
	mu    deadlock.Mutex
	arena []byte
	head  uint32 // offset of first segment; 0 is a valid first offset
	size  uint32
}

const heapAlignment = 16

// NewHeap carves a heap of `size` bytes starting at `start` within arena.
func NewHeap(arena []byte, start, size uint32) *Heap {
	h := &Heap{arena: arena, head: start, size: size}
	seg := segAt(arena, start)
	seg.setNext(nilOff)
	seg.setPrev(nilOff)
	seg.setAllocated(false)
	seg.setSize(size)
	return h
}

func align(n, to uint32) uint32 {
	if r := n % to; r != 0 {
		return n + to - r
	}
	return n
}

// Alloc returns the arena offset of a `size`-byte allocation's data area,
// and a bool reporting success. A miss (no free segment fits) reports
// false; callers (internal/memory.Slab when its own pool is full, or any
// direct kmalloc-style caller) surface that as ENOMEM only once the
// global heap itself is exhausted, per spec.md §7.
func (h *Heap) Alloc(size uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := align(size+segHeaderSize, heapAlignment)

	var best uint32
	haveBest := false
	bestDiff := uint32(1<<32 - 1)

	cur := h.head
	for {
		seg := segAt(h.arena, cur)
		if !seg.allocated() && seg.size() >= total {
			diff := seg.size() - total
			if diff < bestDiff {
				best = cur
				haveBest = true
				bestDiff = diff
			}
		}
		nxt := seg.next()
		if nxt == nilOff {
			break
		}
		cur = nxt
	}
	if !haveBest {
		return 0, false
	}

	bestSeg := segAt(h.arena, best)
	if bestDiff > 2*segHeaderSize {
		newOff := best + total
		newSeg := segAt(h.arena, newOff)
		newSeg.setNext(bestSeg.next())
		newSeg.setPrev(best)
		newSeg.setAllocated(false)
		newSeg.setSize(bestSeg.size() - total)

		if oldNext := bestSeg.next(); oldNext != nilOff {
			segAt(h.arena, oldNext).setPrev(newOff)
		}
		bestSeg.setNext(newOff)
		bestSeg.setSize(total)
	}
	bestSeg.setAllocated(true)
	return best + segHeaderSize, true
}

// Free releases a region previously returned by Alloc, coalescing with
// free neighbors exactly as mazarin's kfree does.
func (h *Heap) Free(dataOff uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if dataOff < segHeaderSize {
		return errors.New("memory: Free: offset below heap header size")
	}
	segOff := dataOff - segHeaderSize
	seg := segAt(h.arena, segOff)
	seg.setAllocated(false)

	// Coalesce backward while the previous segment exists and is free.
	for {
		p := seg.prev()
		if p == nilOff {
			break
		}
		prevSeg := segAt(h.arena, p)
		if prevSeg.allocated() {
			break
		}
		prevSeg.setNext(seg.next())
		prevSeg.setSize(prevSeg.size() + seg.size())
		if nxt := seg.next(); nxt != nilOff {
			segAt(h.arena, nxt).setPrev(p)
		}
		segOff = p
		seg = prevSeg
	}

	// Coalesce forward while the next segment exists and is free.
	for {
		n := seg.next()
		if n == nilOff {
			break
		}
		nextSeg := segAt(h.arena, n)
		if nextSeg.allocated() {
			break
		}
		seg.setSize(seg.size() + nextSeg.size())
		seg.setNext(nextSeg.next())
		if nn := nextSeg.next(); nn != nilOff {
			segAt(h.arena, nn).setPrev(segOff)
		}
	}
	return nil
}

// Bytes returns the live allocation's data region for direct read/write —
// used by VMA/page-fault code when a "kernel object" is backed by the
// heap rather than a slab.
func (h *Heap) Bytes(dataOff, size uint32) []byte {
	return h.arena[dataOff : dataOff+size]
}
