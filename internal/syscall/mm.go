package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
	"nucleus/internal/procmgr"
)

// CopyFromUser reads len(dst) bytes starting at the user virtual address
// vaddr into dst, validating every page along the way — spec.md §4.6:
// "a fault during copy aborts the syscall with EFAULT", never a kernel
// fault.
func CopyFromUser(as *procmgr.AddressSpace, arena *memory.Arena, vaddr uintptr, dst []byte) errno.Errno {
	return copyUser(as, arena, vaddr, dst, hal.ProtR, false)
}

// CopyToUser writes src into the user address space starting at vaddr.
func CopyToUser(as *procmgr.AddressSpace, arena *memory.Arena, vaddr uintptr, src []byte) errno.Errno {
	return copyUser(as, arena, vaddr, src, hal.ProtW, true)
}

func copyUser(as *procmgr.AddressSpace, arena *memory.Arena, vaddr uintptr, buf []byte, need hal.Prot, toUser bool) errno.Errno {
	remaining := uintptr(len(buf))
	cursor := vaddr
	off := 0
	for remaining > 0 {
		vma, ok := as.VMAs.Find(cursor)
		if !ok || vma.Prot&need != need {
			return errno.EFAULT
		}
		page := cursor &^ (hal.Page - 1)
		pte, ok := as.Pages.Lookup(page)
		if !ok || !pte.Present || pte.Prot&need != need {
			return errno.EFAULT
		}
		pageOff := cursor - page
		n := hal.Page - pageOff
		if n > remaining {
			n = remaining
		}
		phys := arena.Page(pte.Frame)
		if toUser {
			copy(phys[pageOff:pageOff+n], buf[off:off+int(n)])
		} else {
			copy(buf[off:off+int(n)], phys[pageOff:pageOff+n])
		}
		cursor += n
		remaining -= n
		off += int(n)
	}
	return 0
}

// Mmap implements the anonymous/private subset of mmap(2): it finds a
// free region of the requested size (honoring hint when possible),
// commits frames for every page immediately, and inserts the VMA. File-
// backed mappings are out of scope (spec.md §6: "Persisted state: none
// within the core scope").
func Mmap(as *procmgr.AddressSpace, frames *memory.FrameAllocator, hint uintptr, length uintptr, prot hal.Prot) (uintptr, errno.Errno) {
	if length == 0 {
		return 0, errno.EINVAL
	}
	start, ok := as.VMAs.FindFreeRegion(length, hint)
	if !ok {
		return 0, errno.ENOMEM
	}
	end := start + roundUpPage(length)

	if err := as.VMAs.Insert(memory.VMA{Start: start, End: end, Prot: prot, Flags: memory.VMAPrivate | memory.VMAAnonymous}); err != nil {
		return 0, errno.ENOMEM
	}

	for p := start; p < end; p += hal.Page {
		frame, ok := frames.Alloc()
		if !ok {
			return 0, errno.ENOMEM
		}
		as.Pages.Map(p, hal.PTE{Frame: frame, Prot: prot, Present: true})
	}
	return start, 0
}

// Munmap tears down [addr, addr+length), freeing frames and splitting any
// VMA that only partially overlaps the range (memory.VMAList.Remove's
// contract).
func Munmap(as *procmgr.AddressSpace, frames *memory.FrameAllocator, addr uintptr, length uintptr) errno.Errno {
	if length == 0 {
		return errno.EINVAL
	}
	end := addr + roundUpPage(length)
	for p := addr; p < end; p += hal.Page {
		if entry, ok := as.Pages.Lookup(p); ok && entry.Present {
			frames.DecRef(entry.Frame)
			as.Pages.Unmap(p)
		}
	}
	if err := as.VMAs.Remove(addr, end); err != nil {
		return errno.EINVAL
	}
	return 0
}

// Mprotect changes the permission of the VMA exactly spanning
// [addr, addr+length) — this core does not support re-splitting a VMA on
// a partial mprotect, only whole-VMA permission changes.
func Mprotect(as *procmgr.AddressSpace, addr uintptr, length uintptr, prot hal.Prot) errno.Errno {
	end := addr + roundUpPage(length)
	vma, ok := as.VMAs.Find(addr)
	if !ok || vma.Start != addr || vma.End != end {
		return errno.EINVAL
	}
	as.VMAs.Replace(memory.VMA{Start: vma.Start, End: vma.End, Prot: prot, Flags: vma.Flags})
	for p := addr; p < end; p += hal.Page {
		if entry, ok := as.Pages.Lookup(p); ok {
			entry.Prot = prot
			as.Pages.Set(p, entry)
		}
	}
	return 0
}

func roundUpPage(n uintptr) uintptr {
	return (n + hal.Page - 1) &^ (hal.Page - 1)
}

// sysMmap's Args are (hint, length, prot); flags (MAP_PRIVATE/ANONYMOUS)
// are implicit since file-backed mappings are out of scope (spec.md §6).
func sysMmap(k *Kernel, t *Task, a Args) int64 {
	addr, e := Mmap(t.Proc.Space, k.Frames, uintptr(a[0]), uintptr(a[1]), hal.Prot(a[2]))
	if e != 0 {
		return e.Negated()
	}
	return int64(addr)
}

func sysMunmap(k *Kernel, t *Task, a Args) int64 {
	return Munmap(t.Proc.Space, k.Frames, uintptr(a[0]), uintptr(a[1])).Negated()
}

func sysMprotect(k *Kernel, t *Task, a Args) int64 {
	return Mprotect(t.Proc.Space, uintptr(a[0]), uintptr(a[1]), hal.Prot(a[2])).Negated()
}

// sysBrk's single argument is the signed delta from the current break
// (sbrk's traditional interface, which this core's single syscall number
// covers instead of separately exposing brk(2)'s absolute-address form).
func sysBrk(k *Kernel, t *Task, a Args) int64 {
	old, e := procmgr.Sbrk(t.Proc.Space, k.Frames, int64(a[0]))
	if e != 0 {
		return e.Negated()
	}
	return int64(old)
}
