package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/signal"
)

// Num is a syscall number, the rax/x8 slot of spec.md §4.6's ABI.
type Num uint64

const (
	SysRead Num = iota
	SysWrite
	SysOpen
	SysClose
	SysLseek
	SysFstat
	SysGetdents64
	SysPipe2
	SysDup
	SysDup2
	SysFcntl
	SysPoll
	SysMmap
	SysMunmap
	SysMprotect
	SysBrk
	SysFork
	SysExecve
	SysExit
	SysWaitpid
	SysKill
	SysSigaction
	SysSigprocmask
	SysSigsuspend
	SysSigreturn
	SysSigaltstack
	SysSetitimer
	SysGetitimer
	SysSocket
	SysBind
	SysListen
	SysAccept
	SysConnect
	SysSendto
	SysRecvfrom
	SysPosixOpenpt
	SysGrantpt
	SysUnlockpt
	SysPtsname
	SysIoctl

	sysCount
)

// Args carries the six argument registers a trap frame hands the
// dispatcher (rdi,rsi,rdx,r10,r8,r9 on x86_64; x0..x5 on ARM64 — spec.md
// §4.6's ABI table). Handlers interpret only as many as they need.
type Args [6]uintptr

// Handler is the uniform shape every syscall table entry has: task
// context plus the raw argument registers in, one ABI return value out.
// Handlers never panic; every failure path is a negative errno (spec.md
// §9: "no exception machinery... dispatch funnels both into the ABI
// return register").
type Handler func(k *Kernel, t *Task, a Args) int64

var table [sysCount]Handler

func register(n Num, h Handler) { table[n] = h }

func init() {
	register(SysRead, sysRead)
	register(SysWrite, sysWrite)
	register(SysOpen, sysOpen)
	register(SysClose, sysClose)
	register(SysLseek, sysLseek)
	register(SysFstat, sysFstat)
	register(SysGetdents64, sysGetdents64)
	register(SysPipe2, sysPipe2)
	register(SysDup, sysDup)
	register(SysDup2, sysDup2)
	register(SysFcntl, sysFcntl)
	register(SysPoll, sysPoll)
	register(SysMmap, sysMmap)
	register(SysMunmap, sysMunmap)
	register(SysMprotect, sysMprotect)
	register(SysBrk, sysBrk)
	register(SysFork, sysFork)
	register(SysExecve, sysExecve)
	register(SysExit, sysExit)
	register(SysWaitpid, sysWaitpid)
	register(SysKill, sysKill)
	register(SysSigaction, sysSigaction)
	register(SysSigprocmask, sysSigprocmask)
	register(SysSigsuspend, sysSigsuspend)
	register(SysSigreturn, sysSigreturn)
	register(SysSigaltstack, sysSigaltstack)
	register(SysSetitimer, sysSetitimer)
	register(SysGetitimer, sysGetitimer)
	register(SysSocket, sysSocket)
	register(SysBind, sysBind)
	register(SysListen, sysListen)
	register(SysAccept, sysAccept)
	register(SysConnect, sysConnect)
	register(SysSendto, sysSendto)
	register(SysRecvfrom, sysRecvfrom)
	register(SysPosixOpenpt, sysPosixOpenpt)
	register(SysGrantpt, sysGrantpt)
	register(SysUnlockpt, sysUnlockpt)
	register(SysPtsname, sysPtsname)
	register(SysIoctl, sysIoctl)
}

// Dispatch is the dispatcher spec.md §4.6 describes: bounds-check the
// syscall number, run the handler, deliver any now-pending signal at the
// return boundary, and fold the outcome into the -errno ABI convention.
// A handler that blocks does so internally (sched.BlockCurrentFor) and
// only returns once it is ready to produce a final result or EINTR.
func Dispatch(k *Kernel, t *Task, n Num, a Args) int64 {
	if n >= sysCount || table[n] == nil {
		return errno.ENOSYS.Negated()
	}
	ret := table[n](k, t, a)
	deliverPending(k, t)
	return ret
}

// deliverPending runs spec.md §4.4/§4.5's delivery step at the syscall
// return boundary: pop the lowest-numbered deliverable signal and act on
// its disposition. There is no user mode to fault back into here, so a
// Handler disposition is invoked synchronously through signal.Deliver /
// signal.SigReturn rather than via a trampoline onto a user stack.
func deliverPending(k *Kernel, t *Task) {
	sig, ok := t.Proc.Signals.NextDeliverable()
	if !ok {
		return
	}
	action := t.Proc.Signals.Action(sig)
	switch action.Disposition {
	case signal.DispositionIgnore:
		return
	case signal.DispositionHandler:
		if t.Regs == nil {
			t.Regs = signal.NewRegisterFile()
		}
		frame := signal.Deliver(t.Proc.Signals, sig, action, t.Regs)
		action.HandlerFn(sig, t.Regs)
		t.Regs = signal.SigReturn(t.Proc.Signals, frame)
		if action.Flags&signal.SA_RESETHAND != 0 {
			t.Proc.Signals.SetAction(sig, signal.Action{})
		}
	default:
		switch signal.DefaultActionFor(sig) {
		case signal.DefaultTerminate, signal.DefaultCoreDump:
			ExitSignaled(k, t, sig)
		default:
			// Stop/continue/ignore defaults: job control is out of scope,
			// nothing further to do.
		}
	}
}
