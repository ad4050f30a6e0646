// Package hal is the architecture hardware-abstraction layer: page-table
// types, the per-CPU base register, interrupt masking, memory barriers,
// and TLB flush. On real hardware GS_BASE (x86_64) or TPIDR_EL1 (ARM64)
// hold a pointer to the running CPU's per-CPU record, readable with a
// single inline load and no lock. There is no such register in a hosted
// Go process, so baseRegister below is its stand-in: still indexed by an
// explicit CPU id (never inferred from goroutine identity — Go has none),
// so every call site that would read GS_BASE/TPIDR_EL1 on real hardware
// instead takes a CPU id parameter, the same discipline the trap stub
// enforces in assembly.
package hal

import "sync/atomic"

// Page is the fixed hardware page size (spec.md §3).
const Page = 4096

// Frame is a physical page-frame number: Frame*Page is a byte offset into
// the simulated physical arena (internal/memory.Arena), never a real
// pointer — see SPEC_FULL.md §4.1.
type Frame uint32

// Prot mirrors spec.md §3's VMA prot enumeration, reused at the PTE level.
type Prot uint8

const (
	ProtNone Prot = 0
	ProtR    Prot = 1 << 0
	ProtW    Prot = 1 << 1
	ProtX    Prot = 1 << 2
)

// PTE is one page-table entry: the frame it maps, plus flags. COW marks a
// page shared read-only by fork until the next write fault (spec.md §4.2).
type PTE struct {
	Frame   Frame
	Prot    Prot
	Present bool
	COW     bool
	Global  bool // kernel-half mappings: never unmapped, no ASID (spec.md §4.1)
}

// FlushToken is returned by every page-table mutation; the caller either
// flushes the single page (FlushPage) or, after a batch of edits, flushes
// the whole TLB (FlushAll) — spec.md §4.1.
type FlushToken struct {
	Page  uintptr
	valid bool
}

// TLB is a per-address-space flush counter standing in for real CR3/TTBR0
// invalidation; tests assert against it to catch a missing flush.
type TLB struct {
	singlePageFlushes atomic.Uint64
	fullFlushes       atomic.Uint64
}

func (t *TLB) FlushPage(tok FlushToken) {
	if !tok.valid {
		return
	}
	t.singlePageFlushes.Add(1)
}

func (t *TLB) FlushAll() { t.fullFlushes.Add(1) }

func (t *TLB) Stats() (single, full uint64) {
	return t.singlePageFlushes.Load(), t.fullFlushes.Load()
}

func NewFlushToken(page uintptr) FlushToken { return FlushToken{Page: page, valid: true} }

// MemoryBarrier stands in for mazarin's dsb() (data synchronization
// barrier), used before publishing a virtqueue available-ring index and
// before reading a used-ring index (spec.md §4.9). atomic operations
// already carry acquire/release semantics in the Go memory model, so this
// is a no-op marker kept for call-site symmetry with the teacher's code.
func MemoryBarrier() {}

// InterruptMask models preempt_count-adjacent IRQ masking: while held,
// the simulated CPU will not run softirqs or deliver signals.
type InterruptMask struct {
	depth atomic.Int32
}

func (m *InterruptMask) Disable() { m.depth.Add(1) }
func (m *InterruptMask) Enable()  { m.depth.Add(-1) }
func (m *InterruptMask) Masked() bool { return m.depth.Load() > 0 }
