package syscall

import (
	"nucleus/internal/errno"
	"nucleus/internal/fd"
	"nucleus/internal/tty"
)

// Ioctl requests this core implements (spec.md §4.6: "TCGETS/TCSETS" and
// "TIOCGPGRP/TIOCSPGRP"). Values are local to this table, not Linux's
// actual ioctl encoding — the ABI here is register arguments, not a
// packed request number with embedded size/direction bits.
type IoctlReq uintptr

const (
	TCGETS IoctlReq = iota
	TCSETS
	TIOCGPGRP
	TIOCSPGRP
)

// sysPosixOpenpt allocates a new PTY pair and installs its master end at
// the lowest free descriptor, returning that fd.
func sysPosixOpenpt(k *Kernel, t *Task, a Args) int64 {
	pair := k.PTYs.OpenPT()
	f := &fd.File{Kind: fd.KindPTYMaster, Backend: pair}
	newFD, e := t.Proc.FDs.Install(f)
	if e != 0 {
		return e.Negated()
	}
	return int64(newFD)
}

func pairFor(t *Task, fdNum int) (*tty.Pair, errno.Errno) {
	f, e := fdFile(t, fdNum)
	if e != 0 {
		return nil, e
	}
	pair, ok := f.Backend.(*tty.Pair)
	if !ok {
		return nil, errno.ENOTTY
	}
	return pair, 0
}

func sysGrantpt(k *Kernel, t *Task, a Args) int64 {
	pair, e := pairFor(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	return k.PTYs.GrantPT(pair).Negated()
}

func sysUnlockpt(k *Kernel, t *Task, a Args) int64 {
	pair, e := pairFor(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	return k.PTYs.UnlockPT(pair).Negated()
}

// sysPtsname returns the PTY pair's index, the numeral half of the
// "/dev/pts/N" pseudo-path (constructing the full path is devfs's job,
// which sits below this layer).
func sysPtsname(k *Kernel, t *Task, a Args) int64 {
	pair, e := pairFor(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	return int64(pair.Index)
}

// OpenPTYSlave is posix_openpt's slave-side counterpart: opening
// "/dev/pts/N" itself is a regular open(2) against devpts, out of the
// scope this core's path-resolving open() covers (spec.md §6), so it is
// exposed directly the same way SigAction is rather than shoehorned
// through sysOpen's ENOSYS stub.
func OpenPTYSlave(k *Kernel, t *Task, pair *tty.Pair) (newFD int, e errno.Errno) {
	if e := k.PTYs.OpenSlave(pair); e != 0 {
		return -1, e
	}
	f := &fd.File{Kind: fd.KindPTYSlave, Backend: pair}
	return t.Proc.FDs.Install(f)
}

// sysIoctl dispatches the termios/pgrp requests. Args: (fd, request, ...)
// with TCGETS/TCSETS carrying the termios struct at user address a[2],
// and TIOCGPGRP/TIOCSPGRP carrying/returning the pgid directly in a[2]/
// the return register.
func sysIoctl(k *Kernel, t *Task, a Args) int64 {
	pair, e := pairFor(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	switch IoctlReq(a[1]) {
	case TCGETS:
		buf := marshalTermios(pair.Disc.GetTermios())
		if ce := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[2]), buf); ce != 0 {
			return ce.Negated()
		}
		return 0
	case TCSETS:
		buf := make([]byte, termiosSize)
		if ce := CopyFromUser(t.Proc.Space, k.Arena, uintptr(a[2]), buf); ce != 0 {
			return ce.Negated()
		}
		pair.Disc.SetTermios(unmarshalTermios(buf))
		return 0
	case TIOCGPGRP:
		return int64(pair.Disc.ForegroundPgid())
	case TIOCSPGRP:
		pair.Disc.SetForegroundPgid(int32(a[2]))
		return 0
	default:
		return errno.EINVAL.Negated()
	}
}

const termiosSize = 4*4 + 20

func marshalTermios(term tty.Termios) []byte {
	b := make([]byte, termiosSize)
	putLE32(b[0:], term.Iflag)
	putLE32(b[4:], term.Oflag)
	putLE32(b[8:], term.Cflag)
	putLE32(b[12:], term.Lflag)
	copy(b[16:], term.Cc[:])
	return b
}

func unmarshalTermios(b []byte) tty.Termios {
	var term tty.Termios
	term.Iflag = le32(b[0:])
	term.Oflag = le32(b[4:])
	term.Cflag = le32(b[8:])
	term.Lflag = le32(b[12:])
	copy(term.Cc[:], b[16:])
	return term
}
