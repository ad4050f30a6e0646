package netstack

import (
	"net/netip"

	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
)

// TCPListener is the passive side of spec.md §4.10's client-side-handshake
// TCP subset: a bound port with a backlog of fully-established connections
// waiting to be accepted. There is no real wire between the two ends —
// Connect below drives both state machines directly, the way a loopback
// handshake in this hosted simulation actually behaves.
type TCPListener struct {
	mu      deadlock.Mutex
	addr    netip.AddrPort
	backlog []*TCPConn
}

// TCPStack maps bound ports to listeners, mirroring UDPStack's port table
// (spec.md §4.10: "a port table maps ports to socket endpoints").
type TCPStack struct {
	mu        deadlock.Mutex
	listening map[netip.AddrPort]*TCPListener
	nextEphem uint16
}

func NewTCPStack() *TCPStack {
	return &TCPStack{listening: make(map[netip.AddrPort]*TCPListener), nextEphem: ephemeralBase}
}

// Listen binds addr (allocating an ephemeral port if addr.Port() == 0) and
// returns a listener ready to accept. EADDRINUSE on an already-bound port,
// matching Bind's UDP sibling.
func (s *TCPStack) Listen(addr netip.AddrPort) (*TCPListener, errno.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.Port() == 0 {
		for tries := 0; tries < 1<<16; tries++ {
			candidate := netip.AddrPortFrom(addr.Addr(), s.nextEphem)
			s.nextEphem++
			if s.nextEphem == 0 {
				s.nextEphem = ephemeralBase
			}
			if _, taken := s.listening[candidate]; !taken {
				addr = candidate
				break
			}
		}
	} else if _, taken := s.listening[addr]; taken {
		return nil, errno.EADDRINUSE
	}

	l := &TCPListener{addr: addr}
	s.listening[addr] = l
	return l, 0
}

// Connect performs the client-side handshake against a listener already
// registered with Listen: allocates the server-side TCPConn, drives both
// state machines through SYN/SYN-ACK/ACK, appends the server-side
// connection to the listener's backlog, and returns the established
// client connection.
func (s *TCPStack) Connect(dst netip.AddrPort) (*TCPConn, errno.Errno) {
	s.mu.Lock()
	l, ok := s.listening[dst]
	s.mu.Unlock()
	if !ok {
		return nil, errno.ECONNREFUSED
	}

	client := NewTCPConn()
	client.ActiveOpen()

	server := NewTCPConn()
	server.Listen()
	server.ReceiveSyn()
	server.ReceiveAck()
	client.ReceiveSynAck()
	client.SetPeer(server)
	server.SetPeer(client)

	l.mu.Lock()
	l.backlog = append(l.backlog, server)
	l.mu.Unlock()

	return client, 0
}

// Accept pops the next established connection off the listener's backlog.
func (l *TCPListener) Accept() (*TCPConn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.backlog) == 0 {
		return nil, false
	}
	c := l.backlog[0]
	l.backlog = l.backlog[1:]
	return c, true
}

// PollReadable reports whether Accept would succeed immediately —
// spec.md §6's "LISTEN with pending connection -> POLLIN".
func (l *TCPListener) PollReadable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog) > 0
}

func (l *TCPListener) LocalAddr() netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}
