package procmgr

import (
	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
)

// AddressSpace bundles a process's page table and VMA list — the two
// pieces Fork must clone (spec.md §4.2).
type AddressSpace struct {
	Pages *memory.PageTable
	VMAs  *memory.VMAList
	Brk   uintptr // current sbrk break; 0 means uninitialized (see Sbrk)
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{Pages: memory.NewPageTable(), VMAs: memory.NewVMAList()}
}

// Fork clones parent's address space copy-on-write: every present mapping
// is shared (frame refcount incremented), and every writable one is marked
// read-only+COW in both page tables, so the next write from either side
// faults into CopyOnWrite. It walks every mapped page-table entry and
// flips PTE bits; it does not copy page contents.
func Fork(parent *AddressSpace, frames *memory.FrameAllocator) *AddressSpace {
	child := &AddressSpace{
		Pages: parent.Pages.Clone(),
		VMAs:  memory.NewVMAList(),
		Brk:   parent.Brk,
	}
	for _, vma := range parent.VMAs.All() {
		child.VMAs.Insert(vma)
	}

	parent.Pages.ForEach(func(vaddr uintptr, entry hal.PTE) {
		if !entry.Present {
			return
		}
		if entry.Prot&hal.ProtW != 0 {
			entry.COW = true
			entry.Prot &^= hal.ProtW
		}
		frames.IncRef(entry.Frame)
		parent.Pages.Set(vaddr, entry)
		child.Pages.Set(vaddr, entry)
	})
	return child
}

// CopyOnWrite handles a write fault against a COW page: if the frame is
// still shared it allocates a fresh one, copies the contents, and remaps
// the faulting address writable; if the refcount has already dropped to 1
// (the last owner), it simply reclaims write permission in place without
// copying (spec.md §4.2's documented single-owner fast path).
func CopyOnWrite(as *AddressSpace, arena *memory.Arena, frames *memory.FrameAllocator, vaddr uintptr) errno.Errno {
	entry, ok := as.Pages.Lookup(vaddr)
	if !ok || !entry.Present || !entry.COW {
		return errno.EFAULT
	}

	if frames.RefCount(entry.Frame) <= 1 {
		entry.COW = false
		entry.Prot |= hal.ProtW
		as.Pages.Set(vaddr, entry)
		return 0
	}

	newFrame, ok := frames.Alloc()
	if !ok {
		return errno.ENOMEM
	}
	copy(arena.Page(newFrame), arena.Page(entry.Frame))
	frames.DecRef(entry.Frame)

	entry.Frame = newFrame
	entry.COW = false
	entry.Prot |= hal.ProtW
	as.Pages.Set(vaddr, entry)
	return 0
}
