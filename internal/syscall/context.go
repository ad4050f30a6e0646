// Package syscall is the trap-entry-equivalent dispatcher of spec.md
// §4.6: it bounds-checks the syscall number, marshals/validates arguments,
// invokes the handler, and funnels both Ok and Err outcomes into the ABI
// return register convention (-errno on failure). It is the one package
// that imports every subsystem built so far — memory, procmgr, fd, tty,
// netstack, signal — because dispatch is where they're actually wired
// together into the syscall surface spec.md §6 names.
package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/fd"
	"nucleus/internal/memory"
	"nucleus/internal/netstack"
	"nucleus/internal/procmgr"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
	"nucleus/internal/tty"
)

// Kernel bundles the process-wide singletons every syscall handler needs:
// the PID table, physical memory, the one PTY pool, and the one netstack
// instance. One Kernel backs one booted image (cmd/kernelctl's "boot").
type Kernel struct {
	Procs  *procmgr.Table
	Arena  *memory.Arena
	Frames *memory.FrameAllocator
	RunQ   *sched.RunQueue
	PTYs   *tty.Pool
	UDP    *netstack.UDPStack
	TCP    *netstack.TCPStack
	Unix   *netstack.UnixStack
	Loop   *netstack.Loopback
}

// NewKernel wires one instance of every subsystem together, sized for a
// simulated physical arena of the given number of 4K frames.
func NewKernel(totalFrames int, workers int) *Kernel {
	arena := memory.NewArena(totalFrames * 4096)
	frames := memory.NewFrameAllocator(totalFrames, 0)
	wq := sched.NewWorkQueue(workers)
	return &Kernel{
		Procs:  procmgr.NewTable(),
		Arena:  arena,
		Frames: frames,
		RunQ:   sched.NewRunQueue(),
		PTYs:   tty.NewPool(),
		UDP:    netstack.NewUDPStack(),
		TCP:    netstack.NewTCPStack(),
		Unix:   netstack.NewUnixStack(),
		Loop:   netstack.NewLoopback(wq),
	}
}

// Task is the per-call context a syscall handler runs with: which process
// issued it and which scheduler thread to park if it blocks.
type Task struct {
	Proc   *procmgr.Process
	Thread *sched.Thread
	Regs   *signal.RegisterFile // lazily created on first signal delivery
}

// fdFile is a convenience lookup shared by most fd-table syscalls.
func fdFile(t *Task, fdNum int) (*fd.File, errno.Errno) {
	return t.Proc.FDs.Get(fdNum)
}
