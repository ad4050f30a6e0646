package netstack

import (
	"net/netip"

	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
)

// datagram is one queued UDP packet awaiting delivery to a bound socket.
type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// UDPSocket is a single bound/connected datagram endpoint.
type UDPSocket struct {
	mu      deadlock.Mutex
	local   netip.AddrPort
	inbox   []datagram
	waiters []chan struct{}
}

// UDPStack owns the ephemeral port table and routes datagrams between
// bound sockets (spec.md §4.10).
type UDPStack struct {
	mu        deadlock.Mutex
	bound     map[netip.AddrPort]*UDPSocket
	nextEphem uint16
}

const ephemeralBase = 49152

func NewUDPStack() *UDPStack {
	return &UDPStack{bound: make(map[netip.AddrPort]*UDPSocket), nextEphem: ephemeralBase}
}

// Bind implements the bind() syscall's effect: claims addr, or allocates
// the next free ephemeral port if addr's port is 0. Returns EADDRINUSE on
// a double-bind, matching spec.md §4.10/§6.
func (s *UDPStack) Bind(sock *UDPSocket, addr netip.AddrPort) errno.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.Port() == 0 {
		for {
			candidate := netip.AddrPortFrom(addr.Addr(), s.nextEphem)
			s.nextEphem++
			if s.nextEphem == 0 {
				s.nextEphem = ephemeralBase
			}
			if _, taken := s.bound[candidate]; !taken {
				addr = candidate
				break
			}
		}
	} else if _, taken := s.bound[addr]; taken {
		return errno.EADDRINUSE
	}

	sock.mu.Lock()
	sock.local = addr
	sock.mu.Unlock()
	s.bound[addr] = sock
	return 0
}

// SendTo delivers payload to whatever socket is bound at dst, or silently
// drops it if nothing is listening (UDP's documented behavior; spec.md
// doesn't require an ICMP port-unreachable path).
func (s *UDPStack) SendTo(from netip.AddrPort, dst netip.AddrPort, payload []byte) errno.Errno {
	s.mu.Lock()
	target, ok := s.bound[dst]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	target.mu.Lock()
	target.inbox = append(target.inbox, datagram{from: from, payload: append([]byte(nil), payload...)})
	waiters := target.waiters
	target.waiters = nil
	target.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return 0
}

// RecvFrom pops the oldest queued datagram, or EAGAIN if nonBlocking and
// nothing is queued.
func (sock *UDPSocket) RecvFrom(dst []byte, nonBlocking bool) (n int, from netip.AddrPort, e errno.Errno) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if len(sock.inbox) == 0 {
		if nonBlocking {
			return 0, netip.AddrPort{}, errno.EAGAIN
		}
		return 0, netip.AddrPort{}, errno.EAGAIN // caller blocks and retries via WaitChan
	}
	dg := sock.inbox[0]
	sock.inbox = sock.inbox[1:]
	n = copy(dst, dg.payload)
	return n, dg.from, 0
}

func (sock *UDPSocket) WaitChan() chan struct{} {
	ch := make(chan struct{}, 1)
	sock.mu.Lock()
	sock.waiters = append(sock.waiters, ch)
	sock.mu.Unlock()
	return ch
}

func (sock *UDPSocket) LocalAddr() netip.AddrPort {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.local
}

func (sock *UDPSocket) Readable() bool {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return len(sock.inbox) > 0
}
