package procmgr

import (
	"bytes"
	"debug/elf"

	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
)

// LoadedImage is what execve needs to resume execution: the entry point
// and the fresh address space PT_LOAD segments were mapped into.
type LoadedImage struct {
	Entry   uint64
	Space   *AddressSpace
}

// ExecveELF builds a fresh address space from an ELF64 binary and returns
// it with the entry point (Execve installs it on the process): every
// PT_LOAD segment is copied into
// freshly allocated frames (BSS — the tail of a segment's memsz beyond
// its filesz — is zeroed, never copied from the file), and mapping
// permissions come from the segment's ELF flags. Grounded on
// original_source/parallels-loader/src/kernel_load.rs's PT_LOAD walk
// ("segments are copied to physical memory... BSS is zeroed"), reworked
// against Go's debug/elf instead of hand-rolled header parsing since this
// is a hosted process loader, not firmware code with no stdlib available.
func ExecveELF(data []byte, frames *memory.FrameAllocator, arena *memory.Arena) (*LoadedImage, errno.Errno) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errno.EINVAL
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, errno.EINVAL
	}

	space := NewAddressSpace()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(space, frames, arena, prog); err != nil {
			return nil, err
		}
	}

	return &LoadedImage{Entry: f.Entry, Space: space}, 0
}

// Execve replaces p's image in place per spec.md §4.11: a fresh address
// space from the ELF's PT_LOAD segments, FD_CLOEXEC descriptors closed,
// and signal actions reset to default (ignored dispositions survive).
// Never returns a value meaning "continue the old image" — on failure the
// caller's existing image is left untouched and the errno is returned.
func Execve(p *Process, data []byte, frames *memory.FrameAllocator, arena *memory.Arena) (entry uint64, e errno.Errno) {
	img, err := ExecveELF(data, frames, arena)
	if err != 0 {
		return 0, err
	}
	p.Space = img.Space
	p.FDs.ApplyExec()
	p.Signals.ResetOnExec()
	return img.Entry, 0
}

func loadSegment(space *AddressSpace, frames *memory.FrameAllocator, arena *memory.Arena, prog *elf.Prog) errno.Errno {
	vaddrStart := uintptr(prog.Vaddr) &^ (hal.Page - 1)
	vaddrEnd := (uintptr(prog.Vaddr+prog.Memsz) + hal.Page - 1) &^ (hal.Page - 1)
	padding := uintptr(prog.Vaddr) - vaddrStart

	// padded holds the segment contents at the offset they'll occupy
	// within the page-aligned region, file bytes followed by zeroed BSS
	// (original_source/parallels-loader/src/kernel_load.rs's contract).
	padded := make([]byte, padding+uintptr(prog.Memsz))
	n, err := prog.ReadAt(padded[padding:padding+uintptr(prog.Filesz)], 0)
	if err != nil || uint64(n) != prog.Filesz {
		return errno.EIO
	}

	prot := segmentProt(prog.Flags)
	if err := space.VMAs.Insert(memory.VMA{Start: vaddrStart, End: vaddrEnd, Prot: prot, Flags: memory.VMAPrivate}); err != nil {
		return errno.ENOMEM
	}

	for vpage := vaddrStart; vpage < vaddrEnd; vpage += hal.Page {
		frame, ok := frames.Alloc()
		if !ok {
			return errno.ENOMEM
		}
		dst := arena.Page(frame)
		start := vpage - vaddrStart
		end := start + hal.Page
		if end > uintptr(len(padded)) {
			end = uintptr(len(padded))
		}
		if start < end {
			copy(dst, padded[start:end])
		}
		space.Pages.Map(vpage, hal.PTE{Frame: frame, Prot: prot, Present: true})
	}
	return 0
}

func segmentProt(flags elf.ProgFlag) hal.Prot {
	var p hal.Prot
	if flags&elf.PF_R != 0 {
		p |= hal.ProtR
	}
	if flags&elf.PF_W != 0 {
		p |= hal.ProtW
	}
	if flags&elf.PF_X != 0 {
		p |= hal.ProtX
	}
	return p
}
