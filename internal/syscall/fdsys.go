package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/fd"
	"nucleus/internal/sched"
	"nucleus/internal/signal"
)

// FcntlCmd is fcntl's second argument (spec.md §4.6's named command set).
type FcntlCmd uintptr

const (
	F_GETFD FcntlCmd = iota
	F_SETFD
	F_GETFL
	F_SETFL
	F_DUPFD
	F_DUPFD_CLOEXEC
)

// sysRead copies up to a[2] bytes from fd a[0] into user address a[1].
// A pipe with nothing buffered and at least one writer still open blocks
// the calling thread until data arrives or a signal interrupts it,
// exactly the read(2)/EINTR contract spec.md §4.4 describes.
func sysRead(k *Kernel, t *Task, a Args) int64 {
	f, e := fdFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	length := int(a[2])
	buf := make([]byte, length)

	if f.Kind == fd.KindPipe {
		for {
			n, e := f.Pipe.Read(buf)
			if e == errno.EAGAIN {
				t.Proc.SetBlocked(k.RunQ, t.Thread)
				sched.BlockCurrentFor(t.Thread, true)
				t.Proc.ClearBlocked()
				if t.Proc.Signals.Deliverable() {
					return errno.EINTR.Negated()
				}
				continue
			}
			if e != 0 {
				return e.Negated()
			}
			if n == 0 {
				return 0
			}
			if ce := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf[:n]); ce != 0 {
				return ce.Negated()
			}
			return int64(n)
		}
	}

	// Non-pipe kinds are not readable through this call.
	return errno.EBADF.Negated()
}

// sysWrite mirrors sysRead for the write direction; a full pipe with at
// least one reader still open blocks rather than returning EAGAIN, unless
// the caller asked for non-blocking I/O via a[3] != 0.
func sysWrite(k *Kernel, t *Task, a Args) int64 {
	f, e := fdFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	length := int(a[2])
	buf := make([]byte, length)
	if ce := CopyFromUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf); ce != 0 {
		return ce.Negated()
	}

	if f.Kind != fd.KindPipe {
		return errno.EBADF.Negated()
	}

	nonBlocking := a[3] != 0
	for {
		n, e := f.Pipe.Write(buf, nonBlocking)
		if e == errno.EPIPE {
			t.Proc.Signals.Raise(signal.SIGPIPE)
			return e.Negated()
		}
		if e != 0 {
			return e.Negated()
		}
		if n > 0 {
			return int64(n)
		}
		// n == 0, e == 0: ring was full and the caller didn't ask for
		// EAGAIN — block and retry (fd.Pipe.Write's documented contract).
		t.Proc.SetBlocked(k.RunQ, t.Thread)
		sched.BlockCurrentFor(t.Thread, true)
		t.Proc.ClearBlocked()
		if t.Proc.Signals.Deliverable() {
			return errno.EINTR.Negated()
		}
	}
}

// sysClose, sysDup, sysDup2 are thin wrappers over fd.Table's methods.
func sysClose(k *Kernel, t *Task, a Args) int64 {
	return t.Proc.FDs.Close(int(a[0])).Negated()
}

func sysDup(k *Kernel, t *Task, a Args) int64 {
	f, e := fdFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	newFD, e := t.Proc.FDs.Install(f)
	if e != 0 {
		return e.Negated()
	}
	return int64(newFD)
}

func sysDup2(k *Kernel, t *Task, a Args) int64 {
	if e := t.Proc.FDs.Dup2(int(a[0]), int(a[1])); e != 0 {
		return e.Negated()
	}
	return int64(a[1])
}

// sysPipe2 installs a connected read/write descriptor pair and packs them
// into the return value (low 32 bits the read end, high 32 the write
// end) — there's no user out-pointer parameter modeled for the usual
// int[2]* pipe2 takes, so the pair travels back in one register the way
// sysWaitpid's status/pid pair does.
func sysPipe2(k *Kernel, t *Task, a Args) int64 {
	r, w, e := t.Proc.FDs.NewPipePair()
	if e != 0 {
		return e.Negated()
	}
	return int64(w)<<32 | int64(uint32(r))
}

// sysFcntl implements the FD_CLOEXEC-related commands spec.md §4.6 names;
// F_DUPFD/F_DUPFD_CLOEXEC ignore a[2] and duplicate into the lowest free
// descriptor (Install's rule); no "at or above a[2]" lower bound is applied.
func sysFcntl(k *Kernel, t *Task, a Args) int64 {
	fdNum := int(a[0])
	cmd := FcntlCmd(a[1])
	switch cmd {
	case F_GETFD:
		v, e := t.Proc.FDs.CloseOnExec(fdNum)
		if e != 0 {
			return e.Negated()
		}
		if v {
			return 1
		}
		return 0
	case F_SETFD:
		return t.Proc.FDs.SetCloseOnExec(fdNum, a[2] != 0).Negated()
	case F_DUPFD:
		f, e := fdFile(t, fdNum)
		if e != 0 {
			return e.Negated()
		}
		newFD, e := t.Proc.FDs.Install(f)
		if e != 0 {
			return e.Negated()
		}
		return int64(newFD)
	case F_DUPFD_CLOEXEC:
		f, e := fdFile(t, fdNum)
		if e != 0 {
			return e.Negated()
		}
		newFD, e := t.Proc.FDs.Install(f)
		if e != 0 {
			return e.Negated()
		}
		t.Proc.FDs.SetCloseOnExec(newFD, true)
		return int64(newFD)
	case F_GETFL:
		return 0
	case F_SETFL:
		return 0
	default:
		return errno.EINVAL.Negated()
	}
}

// sysPoll copies a[1] PollFD entries starting at user address a[0],
// evaluates them against the pure oracle, writes revents back, and
// returns the ready count — blocking (a[2] being the timeout in
// milliseconds) is the caller's responsibility to loop on a 0 result,
// mirroring spec.md §4.7's "the syscall dispatcher retrying it".
func sysPoll(k *Kernel, t *Task, a Args) int64 {
	nfds := int(a[1])
	if nfds == 0 {
		return 0
	}
	raw := make([]byte, nfds*8)
	if e := CopyFromUser(t.Proc.Space, k.Arena, uintptr(a[0]), raw); e != 0 {
		return e.Negated()
	}
	pfds := make([]fd.PollFD, nfds)
	for i := 0; i < nfds; i++ {
		pfds[i].FD = int(int32(le32(raw[i*8:])))
		pfds[i].Events = fd.Events(le32(raw[i*8+4:]))
	}
	ready := fd.Poll(t.Proc.FDs, pfds)
	for i := 0; i < nfds; i++ {
		putLE32(raw[i*8+4:], uint32(pfds[i].Revents))
	}
	if e := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[0]), raw); e != 0 {
		return e.Negated()
	}
	return int64(ready)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// sysOpen, sysLseek, sysFstat, sysGetdents64: this core has no filesystem
// below devfs/devpts (spec.md §6, "ext2 lives below this layer"), so the
// only paths open(2) can resolve here are the PTY pseudo-paths handled by
// sysPosixOpenpt's family; a bare open() call returns ENOSYS rather than
// pretending to walk a directory tree that doesn't exist in this core.
func sysOpen(k *Kernel, t *Task, a Args) int64 { return errno.ENOSYS.Negated() }

func sysLseek(k *Kernel, t *Task, a Args) int64 {
	f, e := fdFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	f.Offset = int64(a[1])
	return f.Offset
}

func sysFstat(k *Kernel, t *Task, a Args) int64  { return errno.ENOSYS.Negated() }
func sysGetdents64(k *Kernel, t *Task, a Args) int64 { return errno.ENOSYS.Negated() }
