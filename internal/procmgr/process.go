// Package procmgr implements the PID table and fork/execve/exit/waitpid
// semantics of spec.md §4.11/§4.2.
package procmgr

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
	"nucleus/internal/fd"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
)

// ProcState is a process's lifecycle stage.
type ProcState int

const (
	ProcRunning ProcState = iota
	ProcZombie
	ProcReaped
)

// Process is one PID's bookkeeping: address space, signal state, parent/
// child links, and exit status once it becomes a zombie.
type Process struct {
	PID      int64
	PPID     int64
	PGID     int64
	State    ProcState
	Space    *AddressSpace
	FDs      *fd.Table
	Signals  *signal.State
	Children []int64
	ExitCode int
	ExitedBy signal.Sig // nonzero if terminated by a signal instead of exiting normally

	mu       deadlock.Mutex
	waiters  []waiterReg // threads blocked in Wait against this process as parent
	blockedQ *sched.RunQueue
	blockedT *sched.Thread
}

// waiterReg is one thread parked in waitpid, registered so Exit can wake
// it on the right run queue instead of relying on a bare channel the
// scheduler doesn't know about (spec.md §4.4: "wake-ups are edge
// triggered... by re-enqueuing on the run queue", not by a side channel).
type waiterReg struct {
	q *sched.RunQueue
	t *sched.Thread
}

func (p *Process) registerWaiter(q *sched.RunQueue, t *sched.Thread) {
	p.mu.Lock()
	p.waiters = append(p.waiters, waiterReg{q: q, t: t})
	p.mu.Unlock()
}

func (p *Process) wakeWaiters() {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, w := range waiters {
		sched.Wake(w.q, w.t)
	}
}

// SetBlocked records the run queue and thread p's own (single-threaded)
// execution is currently parked on for an interruptible blocking syscall
// (read on an empty pipe, waitpid, etc). kill(2) uses this to find what to
// wake when a deliverable signal lands on a blocked target (spec.md §4.5).
func (p *Process) SetBlocked(q *sched.RunQueue, t *sched.Thread) {
	p.mu.Lock()
	p.blockedQ, p.blockedT = q, t
	p.mu.Unlock()
}

// ClearBlocked is called once the blocking syscall has returned, whether
// by normal wakeup or signal interruption, so a stale registration can't
// cause a spurious wake of an unrelated later wait.
func (p *Process) ClearBlocked() {
	p.mu.Lock()
	p.blockedQ, p.blockedT = nil, nil
	p.mu.Unlock()
}

// WakeIfBlocked re-enqueues p's parked thread, if any, so its blocking
// syscall's wait loop re-checks and observes the newly pending signal.
func (p *Process) WakeIfBlocked() {
	p.mu.Lock()
	q, t := p.blockedQ, p.blockedT
	p.mu.Unlock()
	if q != nil && t != nil {
		sched.Wake(q, t)
	}
}

// Table is the global PID table: a flat map keyed by pid, not a tree.
type Table struct {
	mu      deadlock.Mutex
	procs   map[int64]*Process
	nextPID int64
}

func NewTable() *Table {
	return &Table{procs: make(map[int64]*Process), nextPID: 1}
}

// Create allocates a new PID with ppid as its parent (used both for the
// very first process and by Fork).
func (t *Table) Create(ppid int64) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.nextPID
	t.nextPID++
	p := &Process{
		PID:     pid,
		PPID:    ppid,
		PGID:    pid,
		State:   ProcRunning,
		Space:   NewAddressSpace(),
		FDs:     fd.NewTable(),
		Signals: signal.NewState(),
	}
	t.procs[pid] = p
	if parent, ok := t.procs[ppid]; ok {
		parent.Children = append(parent.Children, pid)
	}
	return p
}

func (t *Table) Get(pid int64) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Exit transitions pid to Zombie with the given status: it releases the
// address-space frames (decrementing CoW refcounts, freeing whatever hits
// zero), closes every open descriptor, reparents pid's children to PID 1,
// stores the exit status, and
// wakes any waiter blocked in Wait against this process (spec.md §4.11).
func (t *Table) Exit(pid int64, code int, bySig signal.Sig, frames *memory.FrameAllocator) errno.Errno {
	t.mu.Lock()
	p, ok := t.procs[pid]
	t.mu.Unlock()
	if !ok {
		return errno.EINVAL
	}

	p.Space.Pages.ForEach(func(_ uintptr, entry hal.PTE) {
		if entry.Present {
			frames.DecRef(entry.Frame)
		}
	})
	for i := 0; i < fd.MaxFDs; i++ {
		p.FDs.Close(i)
	}

	t.mu.Lock()
	children := p.Children
	p.Children = nil
	if initProc, ok := t.procs[1]; ok && pid != 1 {
		for _, c := range children {
			if child, ok := t.procs[c]; ok {
				child.PPID = 1
				initProc.Children = append(initProc.Children, c)
			}
		}
	}
	t.mu.Unlock()

	p.ExitCode = code
	p.ExitedBy = bySig
	p.State = ProcZombie
	if parent, ok := t.Get(p.PPID); ok {
		parent.wakeWaiters()
	}
	return 0
}

// Reap removes pid from the table after its exit status has been
// collected by waitpid.
func (t *Table) Reap(pid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.procs[pid]; ok {
		p.State = ProcReaped
		delete(t.procs, pid)
	}
}

