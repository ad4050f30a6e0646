package netstack

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
	"nucleus/internal/fd"
)

// UnixConn is one connected end of a Unix-domain stream socket. There is
// no wire to simulate — it's modeled the same way internal/tty's PTY
// Pair models its master/slave connection, as a pair of fd.Pipe rings
// wired crosswise (one side's out is the other's in), the hosted
// equivalent of socketpair(2).
type UnixConn struct {
	in  *fd.Pipe
	out *fd.Pipe
}

func newUnixPair() (client, server *UnixConn) {
	c2s := fd.NewPipe()
	s2c := fd.NewPipe()
	return &UnixConn{in: s2c, out: c2s}, &UnixConn{in: c2s, out: s2c}
}

func (c *UnixConn) Send(data []byte) errno.Errno {
	_, e := c.out.Write(data, true)
	return e
}

// Recv mirrors TCPConn.Recv's EAGAIN/EOF contract.
func (c *UnixConn) Recv(dst []byte) (int, errno.Errno) {
	return c.in.Read(dst)
}

func (c *UnixConn) PollReadable() bool { return c.in.Readable() }
func (c *UnixConn) PollHup() bool      { return c.in.AtEOF() }

// UnixListener is the passive side of a bound address: a backlog of
// connections accept() hasn't drained yet, the same shape as
// TCPListener's backlog.
type UnixListener struct {
	mu      deadlock.Mutex
	backlog []*UnixConn
}

func (l *UnixListener) Accept() (*UnixConn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) == 0 {
		return nil, false
	}
	c := l.backlog[0]
	l.backlog = l.backlog[1:]
	return c, true
}

// PollReadable reports whether Accept would succeed immediately.
func (l *UnixListener) PollReadable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog) > 0
}

// UnixStack maps bound addresses to listeners. Unlike UDP/TCP's
// netip.AddrPort, a Unix address has no IP/port shape — callers pack an
// abstract namespace handle (a plain uint32, the bind target the caller
// picked) directly into the syscall's address register instead of
// round-tripping a path string through CopyFromUser, since nothing below
// this stack resolves real filesystem paths anyway (spec.md §6's devpts
// note applies here too).
type UnixStack struct {
	mu        deadlock.Mutex
	listening map[uint32]*UnixListener
}

func NewUnixStack() *UnixStack {
	return &UnixStack{listening: make(map[uint32]*UnixListener)}
}

// Bind claims handle for a new listener, or EADDRINUSE if already bound.
func (s *UnixStack) Bind(handle uint32) (*UnixListener, errno.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.listening[handle]; taken {
		return nil, errno.EADDRINUSE
	}
	l := &UnixListener{}
	s.listening[handle] = l
	return l, 0
}

// Connect performs the loopback handshake against whatever listener is
// bound at handle: allocates a connected pair and drops the server end
// into the listener's backlog for Accept to pick up.
func (s *UnixStack) Connect(handle uint32) (*UnixConn, errno.Errno) {
	s.mu.Lock()
	l, ok := s.listening[handle]
	s.mu.Unlock()
	if !ok {
		return nil, errno.ECONNREFUSED
	}

	client, server := newUnixPair()
	l.mu.Lock()
	l.backlog = append(l.backlog, server)
	l.mu.Unlock()
	return client, 0
}
