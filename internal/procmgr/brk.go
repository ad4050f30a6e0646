package procmgr

import (
	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
)

// HeapRegionStart is where a process's sbrk-managed heap begins, well
// below the mmap region (spec.md §3's MMAP_REGION_START) so the two never
// collide.
const HeapRegionStart uintptr = 0x0000_5000_0000_0000

// Sbrk grows or shrinks the process heap by delta bytes and returns the
// break *before* the call, matching the classic sbrk(2) contract. Unlike
// mmap's lazily-faulted anonymous pages, sbrk commits frames immediately
// on growth — the page-fault path is CoW-fork's concern, not first-touch.
func Sbrk(as *AddressSpace, frames *memory.FrameAllocator, delta int64) (oldBrk uintptr, e errno.Errno) {
	if as.Brk == 0 {
		as.Brk = HeapRegionStart
	}

	old := as.Brk
	if delta == 0 {
		return old, 0
	}

	newBrk := uintptr(int64(old) + delta)
	if delta < 0 && newBrk < HeapRegionStart {
		return 0, errno.EINVAL
	}

	oldTop := pageRoundUp(old)
	newTop := pageRoundUp(newBrk)

	if newTop > oldTop {
		for p := oldTop; p < newTop; p += hal.Page {
			frame, ok := frames.Alloc()
			if !ok {
				return 0, errno.ENOMEM
			}
			as.Pages.Map(p, hal.PTE{Frame: frame, Prot: hal.ProtR | hal.ProtW, Present: true})
		}
		if heap, ok := as.VMAs.Find(HeapRegionStart); ok {
			as.VMAs.Replace(memory.VMA{Start: heap.Start, End: newTop, Prot: heap.Prot, Flags: heap.Flags})
		} else {
			as.VMAs.Insert(memory.VMA{Start: HeapRegionStart, End: newTop, Prot: hal.ProtR | hal.ProtW, Flags: memory.VMAPrivate})
		}
	} else if newTop < oldTop {
		for p := newTop; p < oldTop; p += hal.Page {
			if entry, ok := as.Pages.Lookup(p); ok {
				frames.DecRef(entry.Frame)
				as.Pages.Unmap(p)
			}
		}
		if heap, ok := as.VMAs.Find(HeapRegionStart); ok {
			if newTop == HeapRegionStart {
				as.VMAs.Remove(heap.Start, heap.End)
			} else {
				as.VMAs.Replace(memory.VMA{Start: heap.Start, End: newTop, Prot: heap.Prot, Flags: heap.Flags})
			}
		}
	}

	as.Brk = newBrk
	return old, 0
}

func pageRoundUp(x uintptr) uintptr {
	return (x + hal.Page - 1) &^ (hal.Page - 1)
}
