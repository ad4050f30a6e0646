package memory

import (
	"sort"

	"github.com/go-errors/errors"
	"nucleus/internal/hal"
)

// VMAFlags mirrors spec.md §3: flags ∈ {private, shared, anonymous, fixed}.
type VMAFlags uint8

const (
	VMAPrivate VMAFlags = 1 << iota
	VMAShared
	VMAAnonymous
	VMAFixed
)

// VMA is the tuple (start, end, prot, flags) from spec.md §3. Invariants
// (page-aligned, half-open, sorted/non-overlapping, contained in the mmap
// region for user-mmap VMAs) are enforced by VMAList, not by this type.
type VMA struct {
	Start, End uintptr
	Prot       hal.Prot
	Flags      VMAFlags
}

func (v VMA) Contains(addr uintptr) bool { return addr >= v.Start && addr < v.End }
func (v VMA) Len() uintptr               { return v.End - v.Start }

// MmapRegionStart/End bound where user mmap() may place anonymous/file
// VMAs (spec.md §3 "contained in [MMAP_REGION_START, MMAP_REGION_END)").
const (
	MmapRegionStart uintptr = 0x0000_7000_0000_0000
	MmapRegionEnd   uintptr = 0x0000_7FFF_0000_0000
)

var (
	ErrOverlap      = errors.New("memory: VMA overlaps an existing mapping")
	ErrInvalidRange = errors.New("memory: VMA range not page-aligned or empty")
	ErrNotFound     = errors.New("memory: munmap range not found")
)

// VMAList is a process's sorted-by-start, non-overlapping list of VMAs
// (spec.md §4.1). Grounded on gvisor pkg/sentry/mm/mm.go and biscuit
// src/vm/as.go (other_examples): both keep address spaces as a sorted
// interval structure with split-on-partial-unmap semantics.
type VMAList struct {
	vmas []VMA
}

func NewVMAList() *VMAList { return &VMAList{} }

func pageAligned(x uintptr) bool { return x%hal.Page == 0 }

// Insert rejects overlapping, misaligned, or empty ranges, then inserts
// v keeping the list sorted by Start.
func (l *VMAList) Insert(v VMA) error {
	if !pageAligned(v.Start) || !pageAligned(v.End) || v.End <= v.Start {
		return ErrInvalidRange
	}
	idx := sort.Search(len(l.vmas), func(i int) bool { return l.vmas[i].Start >= v.Start })
	if idx > 0 && l.vmas[idx-1].End > v.Start {
		return ErrOverlap
	}
	if idx < len(l.vmas) && l.vmas[idx].Start < v.End {
		return ErrOverlap
	}
	l.vmas = append(l.vmas, VMA{})
	copy(l.vmas[idx+1:], l.vmas[idx:])
	l.vmas[idx] = v
	return nil
}

// Remove is the munmap primitive: VMAs fully contained in [start,end) are
// removed, VMAs straddling either boundary are split into ≤2 surviving
// fragments, and the range is reported ErrNotFound if it hit nothing.
func (l *VMAList) Remove(start, end uintptr) error {
	if !pageAligned(start) || !pageAligned(end) || end <= start {
		return ErrInvalidRange
	}
	hit := false
	var out []VMA
	for _, v := range l.vmas {
		if v.End <= start || v.Start >= end {
			out = append(out, v)
			continue
		}
		hit = true
		if v.Start < start {
			out = append(out, VMA{Start: v.Start, End: start, Prot: v.Prot, Flags: v.Flags})
		}
		if v.End > end {
			out = append(out, VMA{Start: end, End: v.End, Prot: v.Prot, Flags: v.Flags})
		}
	}
	if !hit {
		return ErrNotFound
	}
	l.vmas = out
	sort.Slice(l.vmas, func(i, j int) bool { return l.vmas[i].Start < l.vmas[j].Start })
	return nil
}

// Find returns the VMA covering addr, if any (used by the page-fault
// handler and mprotect).
func (l *VMAList) Find(addr uintptr) (VMA, bool) {
	i := sort.Search(len(l.vmas), func(i int) bool { return l.vmas[i].End > addr })
	if i < len(l.vmas) && l.vmas[i].Contains(addr) {
		return l.vmas[i], true
	}
	return VMA{}, false
}

// All returns a defensive copy of the VMA list, e.g. for fork to iterate.
func (l *VMAList) All() []VMA {
	out := make([]VMA, len(l.vmas))
	copy(out, l.vmas)
	return out
}

// Replace swaps the VMA covering addr for an updated copy (used after a
// CoW fault re-enables the writable bit at the VMA bookkeeping level, and
// by mprotect).
func (l *VMAList) Replace(updated VMA) {
	for i, v := range l.vmas {
		if v.Start == updated.Start && v.End == updated.End {
			l.vmas[i] = updated
			return
		}
	}
}

// FindFreeRegion searches top-down from MmapRegionEnd for a page-aligned
// gap of at least `size` bytes, honoring hint if it is itself free and in
// range (spec.md §4.1).
func (l *VMAList) FindFreeRegion(size uintptr, hint uintptr) (uintptr, bool) {
	sz := uintptr(align(uint32(size), hal.Page))

	if hint != 0 && pageAligned(hint) && hint >= MmapRegionStart && hint+sz <= MmapRegionEnd {
		if _, overlaps := l.Find(hint); !overlaps {
			if ok := l.rangeFree(hint, hint+sz); ok {
				return hint, true
			}
		}
	}

	top := MmapRegionEnd
	for _, v := range reversed(l.vmas) {
		if v.End <= top {
			gapStart := v.End
			if top-gapStart >= sz && top <= MmapRegionEnd {
				candidate := top - sz
				if candidate >= gapStart {
					return candidate, true
				}
			}
			top = v.Start
		}
	}
	if top >= MmapRegionStart && top-MmapRegionStart >= sz {
		return top - sz, true
	}
	return 0, false
}

func (l *VMAList) rangeFree(start, end uintptr) bool {
	for _, v := range l.vmas {
		if v.Start < end && start < v.End {
			return false
		}
	}
	return true
}

func reversed(v []VMA) []VMA {
	out := make([]VMA, len(v))
	for i, x := range v {
		out[len(v)-1-i] = x
	}
	return out
}
