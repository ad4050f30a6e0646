package fd

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
)

// PipeCapacity is the ring buffer size backing a pipe (spec.md §4.7:
// "writes under PIPE_BUF are atomic").
const PipeCapacity = 4096

// PipeBuf is the largest write size POSIX guarantees is atomic.
const PipeBuf = 512

// Pipe is a single-producer/single-consumer byte ring shared by a pipe's
// read and write ends.
type Pipe struct {
	mu          deadlock.Mutex
	buf         [PipeCapacity]byte
	head, tail  int
	count       int
	readersOpen int
	writersOpen int
	readWaiters []chan struct{}
	writeWaiters []chan struct{}
}

// NewPipe returns a ring with both ends open (pipe() syscall's initial
// state: one reader fd, one writer fd).
func NewPipe() *Pipe {
	return &Pipe{readersOpen: 1, writersOpen: 1}
}

func (p *Pipe) notify(waiters *[]chan struct{}) {
	for _, ch := range *waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	*waiters = nil
}

func (p *Pipe) CloseReader() {
	p.mu.Lock()
	p.readersOpen--
	closed := p.readersOpen <= 0
	p.mu.Unlock()
	if closed {
		p.notifyAll()
	}
}

func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	p.writersOpen--
	closed := p.writersOpen <= 0
	p.mu.Unlock()
	if closed {
		p.notifyAll()
	}
}

func (p *Pipe) notifyAll() {
	p.mu.Lock()
	p.notify(&p.readWaiters)
	p.notify(&p.writeWaiters)
	p.mu.Unlock()
}

// ReaderWaitChan/WriterWaitChan hand back a one-shot channel a blocking
// caller can wait on; used by the scheduler's BlockCurrentFor integration
// at the syscall layer.
func (p *Pipe) ReaderWaitChan() chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.readWaiters = append(p.readWaiters, ch)
	p.mu.Unlock()
	return ch
}

func (p *Pipe) WriterWaitChan() chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.writeWaiters = append(p.writeWaiters, ch)
	p.mu.Unlock()
	return ch
}

// Write appends data to the ring. Returns EAGAIN if there is not enough
// room and nonBlocking is set; writes <= PipeBuf either go entirely or
// not at all (atomicity guarantee), larger writes may be partial exactly
// like a real pipe.
func (p *Pipe) Write(data []byte, nonBlocking bool) (int, errno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readersOpen <= 0 {
		return 0, errno.EPIPE
	}

	free := PipeCapacity - p.count
	if free == 0 {
		if nonBlocking {
			return 0, errno.EAGAIN
		}
		return 0, 0 // caller must block and retry; 0,0 signals "try again after wait"
	}

	atomic := len(data) <= PipeBuf
	n := len(data)
	if atomic && n > free {
		if nonBlocking {
			return 0, errno.EAGAIN
		}
		return 0, 0
	}
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		p.buf[p.tail] = data[i]
		p.tail = (p.tail + 1) % PipeCapacity
	}
	p.count += n
	p.notify(&p.readWaiters)
	return n, 0
}

// Read consumes up to len(dst) bytes. Returns (0, 0) at EOF — all writers
// closed and the ring is empty.
func (p *Pipe) Read(dst []byte) (int, errno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		if p.writersOpen <= 0 {
			return 0, 0 // EOF
		}
		return -1, errno.EAGAIN // caller blocks and retries
	}
	n := len(dst)
	if n > p.count {
		n = p.count
	}
	for i := 0; i < n; i++ {
		dst[i] = p.buf[p.head]
		p.head = (p.head + 1) % PipeCapacity
	}
	p.count -= n
	p.notify(&p.writeWaiters)
	return n, 0
}

func (p *Pipe) Readable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count > 0 || p.writersOpen <= 0
}

func (p *Pipe) Writable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count < PipeCapacity || p.readersOpen <= 0
}

func (p *Pipe) HupOnWrite() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readersOpen <= 0
}

// AtEOF reports true once every writer has closed and the ring has
// drained — the POLLHUP-on-the-read-end condition (spec.md §6).
func (p *Pipe) AtEOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writersOpen <= 0 && p.count == 0
}
