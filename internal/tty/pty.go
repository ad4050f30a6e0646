package tty

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
	"nucleus/internal/fd"
)

// Pair is one allocated PTY: a master side the controlling process reads/
// writes, and a slave side the child session treats as its controlling
// terminal, connected by a shared line discipline (spec.md §4.8).
type Pair struct {
	Index    int
	Disc     *LineDiscipline
	toMaster *fd.Pipe // slave output / line-discipline echo -> master read
	locked   bool      // grantpt/unlockpt gate: slave open refused until unlocked
	granted  bool

	masterClosed atomic.Bool // set by CloseMaster
}

// Pool implements posix_openpt/grantpt/unlockpt/ptsname over a list of
// PTY pairs (spec.md §4.8). The list has no fixed size: every OpenPT
// appends a new pair.
type Pool struct {
	mu    deadlock.Mutex
	pairs []*Pair
}

func NewPool() *Pool { return &Pool{} }

// OpenPT implements posix_openpt: allocates a new pair, locked until
// unlockpt is called (matching the real POSIX sequence this package is
// grounded on).
func (p *Pool) OpenPT() *Pair {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair := &Pair{
		Index:    len(p.pairs),
		Disc:     NewLineDiscipline(),
		toMaster: fd.NewPipe(),
		locked:   true,
	}
	p.pairs = append(p.pairs, pair)
	return pair
}

// GrantPT marks ownership/permissions as granted (hosted model: just
// flips a bit other calls can check — there is no real file-mode change
// to make without an actual devpts filesystem backing this).
func (p *Pool) GrantPT(pair *Pair) errno.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair.granted = true
	return 0
}

// UnlockPT clears the lock so the slave can be opened.
func (p *Pool) UnlockPT(pair *Pair) errno.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	pair.locked = false
	return 0
}

// OpenSlave opens the slave end, refusing with EACCES-equivalent EPERM
// while still locked (posix_openpt's documented sequence: openpt, grantpt,
// unlockpt, then the slave path becomes openable).
func (p *Pool) OpenSlave(pair *Pair) errno.Errno {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pair.locked {
		return errno.EPERM
	}
	return 0
}

// WriteFromMaster is the master side writing bytes destined for the
// slave's terminal input (keystrokes), run through the line discipline.
func (p *Pair) WriteFromMaster(data []byte) {
	p.Disc.Input(data, p.toMaster) // echo goes back to the master's read side
}

// ReadFromSlave pops the next complete canonical line (or raw chunk) the
// slave-side reader (the shell/program) would read().
func (p *Pair) ReadFromSlave() ([]byte, bool) {
	return p.Disc.ReadLine()
}

// WriteFromSlave is a slave-side program writing output; it passes
// through to the master's read side untouched (output post-processing
// such as NL->CRNL is left to Termios.Oflag consumers at a higher layer).
func (p *Pair) WriteFromSlave(data []byte) (int, errno.Errno) {
	return p.toMaster.Write(data, true)
}

// ReadFromMaster lets the controlling process read what the slave wrote.
func (p *Pair) ReadFromMaster(dst []byte) (int, errno.Errno) {
	return p.toMaster.Read(dst)
}

// CloseMaster marks the master side closed and closes its read end of
// toMaster; from then on slave-side polls observe POLLHUP. Closing a
// master fd through fd.Table does not call it.
func (p *Pair) CloseMaster() {
	p.masterClosed.Store(true)
	p.toMaster.CloseReader()
}

func (p *Pair) MasterClosed() bool {
	return p.masterClosed.Load()
}

// MasterPollIn/MasterPollOut/MasterPollHup and SlavePollIn/SlavePollOut/
// SlavePollHup implement fd.PTYBackend, letting the poll oracle query a
// Pair's readiness per side without internal/fd importing this package.
func (p *Pair) MasterPollIn() bool  { return p.toMaster.Readable() }
func (p *Pair) MasterPollOut() bool { return true }
func (p *Pair) MasterPollHup() bool { return false }

func (p *Pair) SlavePollIn() bool  { return p.Disc.Pending() > 0 }
func (p *Pair) SlavePollOut() bool { return p.toMaster.Writable() }
func (p *Pair) SlavePollHup() bool { return p.MasterClosed() }
