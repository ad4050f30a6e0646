package fd

// Events is the POLLIN/POLLOUT/... revents bitmask (spec.md §6 poll
// table).
type Events uint32

const (
	POLLIN   Events = 1 << 0
	POLLOUT  Events = 1 << 1
	POLLERR  Events = 1 << 2
	POLLHUP  Events = 1 << 3
	POLLNVAL Events = 1 << 4
)

// PollFD is one entry of a poll() call.
type PollFD struct {
	FD     int
	Events Events
	Revents Events
}

// Poll is a pure function of current fd-table/pipe state — it never
// blocks or mutates anything (spec.md §4.7: "the poll oracle itself is
// pure with respect to fd bookkeeping; blocking is layered on top by the
// syscall dispatcher retrying it"). readyCount is the number of entries
// with a nonzero Revents, matching poll(2)'s return value.
func Poll(t *Table, fds []PollFD) (readyCount int) {
	for i := range fds {
		pfd := &fds[i]
		f, e := t.Get(pfd.FD)
		if e != 0 {
			pfd.Revents = POLLNVAL
			readyCount++
			continue
		}
		pfd.Revents = revents(f, pfd.Events)
		if pfd.Revents != 0 {
			readyCount++
		}
	}
	return readyCount
}

// Pollable is the duck-typed interface a socket-kind File's Backend
// satisfies so the oracle below can ask it for readiness without this
// package importing internal/netstack (which would cycle back through
// internal/syscall's sockAddr wrapper). internal/syscall's sockAddr
// implements this by delegating to whichever netstack endpoint it
// currently wraps.
type Pollable interface {
	PollIn() bool
	PollOut() bool
	PollHup() bool
}

// PTYBackend is the analogous duck-typed interface for *tty.Pair — a
// single Pair backs both the master and slave Files, so unlike Pollable
// its methods are split by side and revents picks the right half off
// f.Kind. Defined here rather than satisfied via Pollable because
// internal/tty imports internal/fd for fd.Pipe, so fd can't import tty
// back to type-assert *tty.Pair directly.
type PTYBackend interface {
	MasterPollIn() bool
	MasterPollOut() bool
	MasterPollHup() bool
	SlavePollIn() bool
	SlavePollOut() bool
	SlavePollHup() bool
}

func revents(f *File, interested Events) Events {
	switch f.Kind {
	case KindPipe:
		return pipeRevents(f, interested)
	case KindPTYMaster, KindPTYSlave:
		return ptyRevents(f, interested)
	default:
		if p, ok := f.Backend.(Pollable); ok {
			return pollableRevents(p, interested)
		}
		// Devices, regular files, etc. are always ready for the I/O they
		// support — they never actually block in this hosted model.
		var r Events
		if interested&POLLIN != 0 {
			r |= POLLIN
		}
		if interested&POLLOUT != 0 {
			r |= POLLOUT
		}
		return r
	}
}

func pollableRevents(p Pollable, interested Events) Events {
	var r Events
	if interested&POLLIN != 0 && p.PollIn() {
		r |= POLLIN
	}
	if interested&POLLOUT != 0 && p.PollOut() {
		r |= POLLOUT
	}
	if p.PollHup() {
		r |= POLLHUP
	}
	return r
}

func ptyRevents(f *File, interested Events) Events {
	pb, ok := f.Backend.(PTYBackend)
	if !ok {
		return 0
	}
	var r Events
	if f.Kind == KindPTYMaster {
		if interested&POLLIN != 0 && pb.MasterPollIn() {
			r |= POLLIN
		}
		if interested&POLLOUT != 0 && pb.MasterPollOut() {
			r |= POLLOUT
		}
		if pb.MasterPollHup() {
			r |= POLLHUP
		}
	} else {
		if interested&POLLIN != 0 && pb.SlavePollIn() {
			r |= POLLIN
		}
		if interested&POLLOUT != 0 && pb.SlavePollOut() {
			r |= POLLOUT
		}
		if pb.SlavePollHup() {
			r |= POLLHUP
		}
	}
	return r
}

func pipeRevents(f *File, interested Events) Events {
	var r Events
	if f.PipeRead {
		if interested&POLLIN != 0 && f.Pipe.Readable() {
			r |= POLLIN
		}
		if f.Pipe.AtEOF() {
			r |= POLLHUP
		}
	} else {
		if interested&POLLOUT != 0 && f.Pipe.Writable() {
			r |= POLLOUT
		}
		if f.Pipe.HupOnWrite() {
			r |= POLLERR
		}
	}
	return r
}
