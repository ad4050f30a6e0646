package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/procmgr"
	"nucleus/internal/signal"
)

// Fork implements spec.md §4.11's fork(): the parent sees the child's PID
// returned, the child sees 0. This returns only the child's PID; handing 0
// to the child (one goroutine per side in this hosted simulation) is the
// caller's job.
func Fork(k *Kernel, parent *Task) (childPID int64, e errno.Errno) {
	child := k.Procs.ForkProcess(parent.Proc, k.Frames)
	return child.PID, 0
}

// Execve replaces the calling process's image with the ELF in data.
func Execve(k *Kernel, t *Task, data []byte) (entry uint64, e errno.Errno) {
	return procmgr.Execve(t.Proc, data, k.Frames, k.Arena)
}

// Exit implements exit(2): release frames, close descriptors, reparent children to PID 1,
// record the status, and wake any waiting parent.
func Exit(k *Kernel, t *Task, code int) errno.Errno {
	return k.Procs.Exit(t.Proc.PID, code, 0, k.Frames)
}

// ExitSignaled is exit's counterpart for death-by-signal (SIGSEGV et al.
// terminating with the default action, spec.md §7).
func ExitSignaled(k *Kernel, t *Task, sig signal.Sig) errno.Errno {
	return k.Procs.Exit(t.Proc.PID, 0, sig, k.Frames)
}

// Waitpid implements waitpid(2), returning the POSIX-encoded status word
// spec.md §6 specifies.
func Waitpid(k *Kernel, t *Task, pid int64, options procmgr.WaitOptions) (resultPID int64, status uint32, e errno.Errno) {
	res, err := procmgr.Wait(k.Procs, k.RunQ, t.Proc, t.Thread, pid, options)
	if err != 0 {
		return 0, 0, err
	}
	return res.PID, procmgr.EncodeStatus(res), 0
}

// Kill implements kill(2): sets the target's pending bit and, if it is
// blocked-in-syscall with a deliverable signal, wakes it (spec.md §4.5
// "kill(pid, sig)").
func Kill(k *Kernel, pid int64, sig signal.Sig) errno.Errno {
	target, ok := k.Procs.Get(pid)
	if !ok {
		return errno.ESRCH
	}
	target.Signals.Raise(sig)
	if target.Signals.Deliverable() {
		target.WakeIfBlocked()
	}
	return 0
}

// sysFork is fork(2) with no arguments; the child's PID is the ABI return
// value in the parent, 0 in the child (the caller of Dispatch is
// responsible for running the child on its own thread and handing it 0).
func sysFork(k *Kernel, t *Task, a Args) int64 {
	pid, e := Fork(k, t)
	if e != 0 {
		return e.Negated()
	}
	return pid
}

// sysExecve reads an ELF image of a[1] bytes from user address a[0] and
// replaces the caller's image with it. There is no filesystem beneath
// this layer to resolve a path from (spec.md §6: "ext2 lives below this
// layer"), so the image is read directly out of the caller's own address
// space, the same contract a devfs/initramfs-backed loader would present
// to this syscall.
func sysExecve(k *Kernel, t *Task, a Args) int64 {
	length := uintptr(a[1])
	buf := make([]byte, length)
	if e := CopyFromUser(t.Proc.Space, k.Arena, uintptr(a[0]), buf); e != 0 {
		return e.Negated()
	}
	entry, e := Execve(k, t, buf)
	if e != 0 {
		return e.Negated()
	}
	return int64(entry)
}

func sysExit(k *Kernel, t *Task, a Args) int64 {
	return Exit(k, t, int(a[0])).Negated()
}

// sysWaitpid packs (pid, status) into the ABI return the way wait4's
// actual two-output shape would require a user-pointer out-param for;
// since there is no caller-supplied status pointer modeled here, the
// status word is folded into the high 32 bits and the reaped pid into the
// low 32, mirroring EncodeStatus's own packing convention.
func sysWaitpid(k *Kernel, t *Task, a Args) int64 {
	pid, status, e := Waitpid(k, t, int64(a[0]), procmgr.WaitOptions(a[1]))
	if e != 0 {
		return e.Negated()
	}
	return int64(status)<<32 | (pid & 0xffffffff)
}

func sysKill(k *Kernel, t *Task, a Args) int64 {
	e := Kill(k, int64(a[0]), signal.Sig(a[1]))
	return e.Negated()
}
