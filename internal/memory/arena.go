// Package memory implements the physical frame allocator, kernel heap,
// slab caches, and per-process VMA list (spec.md §4.1).
package memory

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/hal"
)

// DefaultArenaSize matches mazarin's hardcoded 128 MB QEMU memory size
// (mazarin/page.go getMemSize, "Since you determine the exact size of
// memory through QEMU options... My Makefile sets the memory to be 128 MB").
const DefaultArenaSize = 128 * 1024 * 1024

// Arena is the simulated physical RAM: a single byte slice addressed by
// Frame (internal/hal.Frame), standing in for the bootloader-delivered
// memory map spec.md §1 says the core consumes but does not define.
// Every "physical" structure (frame bitmap, heap segments, virtqueue
// rings, page contents) is carved out of this one backing store so tests
// can inspect it directly instead of reasoning about unsafe.Pointer.
type Arena struct {
	bytes []byte
}

// NewArena allocates an arena of the given size, rounded down to a whole
// number of pages.
func NewArena(size int) *Arena {
	size -= size % hal.Page
	return &Arena{bytes: make([]byte, size)}
}

// Frames returns the number of 4 KiB frames the arena holds.
func (a *Arena) Frames() int { return len(a.bytes) / hal.Page }

// Page returns the byte slice backing frame f; callers must not retain it
// past the frame's lifetime (the CoW fault handler and heap rely on this
// slice aliasing the arena, not copying it).
func (a *Arena) Page(f hal.Frame) []byte {
	off := int(f) * hal.Page
	return a.bytes[off : off+hal.Page]
}

// Bytes exposes the whole backing store; used by the kernel heap, whose
// segment headers live directly in arena bytes the way mazarin's heap
// segments live directly in physical memory starting at __end.
func (a *Arena) Bytes() []byte { return a.bytes }

// FrameAllocator is a bitmap-backed physical frame allocator, seeded from
// the (simulated) bootloader memory map: all frames start usable.
// Grounded on mazarin/page.go's free-list-of-Page approach, reimplemented
// as a bitmap per spec.md §4.1 ("Bitmap-backed, seeded from the
// bootloader's memory map").
type FrameAllocator struct {
	mu     deadlock.Mutex
	bitmap []uint64 // bit set => frame allocated
	refs   []uint32 // CoW reference count per frame
	total  int
}

// NewFrameAllocator reserves the first `reserved` frames (kernel image +
// page metadata) as permanently allocated, matching mazarin's pageInit
// reserving frames for the page array before the heap starts.
func NewFrameAllocator(totalFrames, reserved int) *FrameAllocator {
	fa := &FrameAllocator{
		bitmap: make([]uint64, (totalFrames+63)/64),
		refs:   make([]uint32, totalFrames),
		total:  totalFrames,
	}
	for i := 0; i < reserved; i++ {
		fa.setBit(i)
		fa.refs[i] = 1
	}
	return fa
}

func (fa *FrameAllocator) setBit(i int)   { fa.bitmap[i/64] |= 1 << uint(i%64) }
func (fa *FrameAllocator) clearBit(i int) { fa.bitmap[i/64] &^= 1 << uint(i%64) }
func (fa *FrameAllocator) testBit(i int) bool {
	return fa.bitmap[i/64]&(1<<uint(i%64)) != 0
}

// Alloc returns a fresh frame with refcount 1, or ok=false if none remain.
func (fa *FrameAllocator) Alloc() (hal.Frame, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for i := 0; i < fa.total; i++ {
		if !fa.testBit(i) {
			fa.setBit(i)
			fa.refs[i] = 1
			return hal.Frame(i), true
		}
	}
	return 0, false
}

// Free returns a frame to the bitmap unconditionally (refcount ignored);
// callers doing CoW accounting should use DecRef instead.
func (fa *FrameAllocator) Free(f hal.Frame) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.clearBit(int(f))
	fa.refs[f] = 0
}

// IncRef bumps a frame's CoW sharing count (spec.md §4.2 step: fork
// increments the refcount of every frame the child now also maps).
func (fa *FrameAllocator) IncRef(f hal.Frame) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.refs[f]++
}

// DecRef drops a frame's refcount, freeing it to the bitmap once it hits
// zero, and reports the refcount after the decrement.
func (fa *FrameAllocator) DecRef(f hal.Frame) uint32 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.refs[f]--
	n := fa.refs[f]
	if n == 0 {
		fa.clearBit(int(f))
	}
	return n
}

// RefCount reports a frame's current CoW sharing count.
func (fa *FrameAllocator) RefCount(f hal.Frame) uint32 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.refs[f]
}

// Free frames available, used by tests asserting OutOfFrames behavior.
func (fa *FrameAllocator) FreeCount() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	n := 0
	for i := 0; i < fa.total; i++ {
		if !fa.testBit(i) {
			n++
		}
	}
	return n
}
