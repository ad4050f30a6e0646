package memory

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/hal"
)

// PageTable maps virtual page numbers to PTEs. A real page-table walk
// (4-level x86_64 / ARM64) is replaced by a flat map keyed on page-aligned
// virtual address — the hosted model only needs correct CoW/protection
// bookkeeping, not the physical radix-tree layout spec.md §4.1 describes
// for the freestanding target (see SPEC_FULL.md §1 on the simulation
// pivot).
type PageTable struct {
	mu      deadlock.Mutex
	entries map[uintptr]hal.PTE
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[uintptr]hal.PTE)}
}

func pageFloor(addr uintptr) uintptr { return addr &^ (hal.Page - 1) }

func (pt *PageTable) Map(vaddr uintptr, entry hal.PTE) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[pageFloor(vaddr)] = entry
}

func (pt *PageTable) Lookup(vaddr uintptr) (hal.PTE, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[pageFloor(vaddr)]
	return e, ok
}

func (pt *PageTable) Unmap(vaddr uintptr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, pageFloor(vaddr))
}

// Clone returns a deep copy of every entry — fork()'s starting point
// before CoW bit-clearing is applied (spec.md §4.2).
func (pt *PageTable) Clone() *PageTable {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := NewPageTable()
	for k, v := range pt.entries {
		out.entries[k] = v
	}
	return out
}

// ForEach calls fn for every mapped page; used by fork to apply CoW
// bit-clearing across the whole address space.
func (pt *PageTable) ForEach(fn func(vaddr uintptr, entry hal.PTE)) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for k, v := range pt.entries {
		fn(k, v)
	}
}

// Set installs a possibly-modified entry in place — used by the CoW
// fault handler to flip Present/COW bits after copying a frame.
func (pt *PageTable) Set(vaddr uintptr, entry hal.PTE) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[pageFloor(vaddr)] = entry
}
