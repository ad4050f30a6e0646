package procmgr

import (
	"nucleus/internal/memory"
)

// ForkProcess implements spec.md §4.11's fork(): allocate a child PID,
// clone the address space CoW, duplicate the fd table and the signal
// action table/alt stack, inherit pgid, and link the child into the
// parent's children set. Returns the new child Process; the caller is
// responsible for returning its PID to the parent and 0 to the child
// (there is only one Go-level call here, the two return values are a
// property of the real syscall ABI, not of this function).
func (t *Table) ForkProcess(parent *Process, frames *memory.FrameAllocator) *Process {
	t.mu.Lock()
	pid := t.nextPID
	t.nextPID++
	t.mu.Unlock()

	child := &Process{
		PID:     pid,
		PPID:    parent.PID,
		PGID:    parent.PGID,
		State:   ProcRunning,
		Space:   Fork(parent.Space, frames),
		FDs:     parent.FDs.Fork(),
		Signals: parent.Signals.Fork(),
	}

	t.mu.Lock()
	t.procs[pid] = child
	parent.Children = append(parent.Children, pid)
	t.mu.Unlock()

	return child
}
