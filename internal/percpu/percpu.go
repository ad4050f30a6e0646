// Package percpu implements the per-CPU record and preemption counters of
// spec.md §4.3. On real hardware a single architecture register
// (GS_BASE/TPIDR_EL1) holds a pointer to this record, reachable with no
// lock; here each CPU's record lives in a slice indexed by CPU id, and
// every accessor takes that id explicitly — the hosted equivalent of
// "load the per-CPU base register, then offset from it".
package percpu

import "sync/atomic"

// Data is one CPU's per-CPU record: fixed layout matching spec.md §4.3,
// laid out as plain fields (on real hardware the trap stub reads these at
// fixed byte offsets directly from assembly; here every field still has a
// single fixed meaning and no Go code may address it any other way).
type Data struct {
	CPUID           int
	CurrentThread   atomic.Int64 // thread id, -1 if none
	IdleThread      int64
	PreemptCount    atomic.Int32
	NeedResched     atomic.Bool
	HardIRQDepth    atomic.Int32
	SoftIRQDepth    atomic.Int32
	NMIDepth        atomic.Int32
	SoftIRQPending  atomic.Uint32
	SyscallCleanup  atomic.Bool
}

// Table holds every CPU's record, indexed by CPU id.
type Table struct {
	cpus []*Data
}

// NewTable builds a table of n CPUs, each starting with no current thread.
func NewTable(n int) *Table {
	t := &Table{cpus: make([]*Data, n)}
	for i := range t.cpus {
		d := &Data{CPUID: i, IdleThread: -1}
		d.CurrentThread.Store(-1)
		t.cpus[i] = d
	}
	return t
}

func (t *Table) CPU(id int) *Data { return t.cpus[id] }
func (t *Table) Len() int         { return len(t.cpus) }

// PreemptDisable/PreemptEnable are the simple increment/decrement spec.md
// §4.3 calls for. Nothing here or in the scheduler checks the count
// before a thread blocks.
func (d *Data) PreemptDisable() { d.PreemptCount.Add(1) }

// PreemptEnable decrements the preempt count and reports whether a
// reschedule is now both possible and requested ("set_need_resched +
// preempt_enable ⇒ schedule at enable time if both are true").
func (d *Data) PreemptEnable() (shouldSchedule bool) {
	n := d.PreemptCount.Add(-1)
	return n == 0 && d.NeedResched.Load()
}

func (d *Data) Preemptible() bool { return d.PreemptCount.Load() == 0 }

func (d *Data) SetNeedResched() { d.NeedResched.Store(true) }
func (d *Data) ClearNeedResched() { d.NeedResched.Store(false) }

// InInterrupt reports true if hardirq, softirq, or NMI nesting is active.
func (d *Data) InInterrupt() bool {
	return d.HardIRQDepth.Load() > 0 || d.SoftIRQDepth.Load() > 0 || d.NMIDepth.Load() > 0
}

func (d *Data) IRQEnter() { d.HardIRQDepth.Add(1) }
func (d *Data) IRQExit()  { d.HardIRQDepth.Add(-1) }
func (d *Data) NMIEnter() { d.NMIDepth.Add(1) }
func (d *Data) NMIExit()  { d.NMIDepth.Add(-1) }
func (d *Data) SoftIRQEnter() { d.SoftIRQDepth.Add(1) }
func (d *Data) SoftIRQExit()  { d.SoftIRQDepth.Add(-1) }

// RaiseSoftIRQ marks bit n pending; DoSoftIRQ runs and clears pending bits
// outside of any IRQ context, as spec.md §4.3 requires.
func (d *Data) RaiseSoftIRQ(n uint) {
	for {
		old := d.SoftIRQPending.Load()
		if d.SoftIRQPending.CompareAndSwap(old, old|(1<<n)) {
			return
		}
	}
}

// DoSoftIRQ invokes handler(n) for every pending bit, clearing it first so
// a handler that re-raises its own bit is observed on the next pass.
func (d *Data) DoSoftIRQ(handler func(n uint)) {
	if d.InInterrupt() {
		return
	}
	pending := d.SoftIRQPending.Swap(0)
	for n := uint(0); n < 32; n++ {
		if pending&(1<<n) != 0 {
			handler(n)
		}
	}
}
