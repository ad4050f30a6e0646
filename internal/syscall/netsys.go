package syscall

import (
	"net/netip"

	"nucleus/internal/errno"
	"nucleus/internal/fd"
	"nucleus/internal/netstack"
	"nucleus/internal/sched"
)

// Address families (a[0] of sysSocket), matching AF_UNIX/AF_INET's real
// Linux values.
const (
	AF_UNIX uintptr = 1
	AF_INET uintptr = 2
)

// Socket types (a[1] of sysSocket), matching SOCK_STREAM/SOCK_DGRAM's
// real Linux values so a caller's existing constant doesn't need
// translation at this layer.
const (
	SOCK_STREAM uintptr = 1
	SOCK_DGRAM  uintptr = 2
)

// sockAddr wraps a File's socket-specific state: which stack endpoint it
// is (exactly one of udp/tcp/listener/unixConn/unixListener is non-nil
// depending on what the socket has become via bind/listen/accept/
// connect).
type sockAddr struct {
	udp          *netstack.UDPSocket
	tcp          *netstack.TCPConn
	listener     *netstack.TCPListener
	unixConn     *netstack.UnixConn
	unixListener *netstack.UnixListener
	isStream     bool
	isUnix       bool
}

// PollIn/PollOut/PollHup implement fd.Pollable, letting the poll oracle
// query a socket fd's readiness without internal/fd importing
// internal/netstack back (fd.Table's File.Backend only needs the
// duck-typed interface, not the concrete endpoint type).
func (sa *sockAddr) PollIn() bool {
	switch {
	case sa.listener != nil:
		return sa.listener.PollReadable()
	case sa.unixListener != nil:
		return sa.unixListener.PollReadable()
	case sa.tcp != nil:
		return sa.tcp.PollReadable()
	case sa.unixConn != nil:
		return sa.unixConn.PollReadable()
	case sa.udp != nil:
		return sa.udp.Readable()
	}
	return false
}

// PollOut reports a socket as writable once it actually has somewhere to
// deliver to — sends never block past that point in this hosted model
// (the loopback work queue absorbs the delivery itself).
func (sa *sockAddr) PollOut() bool {
	switch {
	case sa.tcp != nil:
		return sa.tcp.Ready()
	case sa.unixConn != nil:
		return true
	case sa.udp != nil:
		return true
	}
	return false
}

func (sa *sockAddr) PollHup() bool {
	switch {
	case sa.tcp != nil:
		return sa.tcp.PollHup()
	case sa.unixConn != nil:
		return sa.unixConn.PollHup()
	}
	return false
}

func addrFromArgs(ip uint32, port uint16) netip.AddrPort {
	b := [4]byte{byte(ip), byte(ip >> 8), byte(ip >> 16), byte(ip >> 24)}
	return netip.AddrPortFrom(netip.AddrFrom4(b), port)
}

// sysSocket allocates a descriptor not yet bound to any address; a[0] is
// the address family (AF_UNIX or AF_INET), a[1] selects SOCK_STREAM or
// SOCK_DGRAM (ignored for AF_UNIX, which this table only models as a
// connection-oriented stream).
func sysSocket(k *Kernel, t *Task, a Args) int64 {
	sa := &sockAddr{isStream: a[1] == SOCK_STREAM, isUnix: a[0] == AF_UNIX}
	kind := fd.KindUDP
	switch {
	case sa.isUnix:
		kind = fd.KindUnix
	case sa.isStream:
		kind = fd.KindTCP
	}
	f := &fd.File{Kind: kind, Backend: sa}
	newFD, e := t.Proc.FDs.Install(f)
	if e != 0 {
		return e.Negated()
	}
	return int64(newFD)
}

func sockFile(t *Task, fdNum int) (*fd.File, *sockAddr, errno.Errno) {
	f, e := fdFile(t, fdNum)
	if e != 0 {
		return nil, nil, e
	}
	sa, ok := f.Backend.(*sockAddr)
	if !ok {
		return nil, nil, errno.EBADF
	}
	return f, sa, 0
}

// sysBind: a[0] fd, a[1] ip (host byte order uint32), a[2] port for
// AF_INET sockets; for AF_UNIX sockets a[1] alone is the abstract
// namespace handle (§4.6's "bind (UDP, TCP, and Unix domain)"), and a[2]
// is ignored. Datagram sockets bind immediately through UDPStack; stream
// sockets only record the address here, since TCPStack.Listen is what
// actually claims the port (listen(2) is a separate call, matching
// POSIX's bind-then-listen split) — Unix-domain sockets follow the same
// split through UnixStack.Bind.
func sysBind(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	if sa.isUnix {
		l, e := k.Unix.Bind(uint32(a[1]))
		if e != 0 {
			return e.Negated()
		}
		sa.unixListener = l
		return 0
	}
	addr := addrFromArgs(uint32(a[1]), uint16(a[2]))
	if sa.isStream {
		l, e := k.TCP.Listen(addr)
		if e != 0 {
			return e.Negated()
		}
		sa.listener = l
		return 0
	}
	sock := &netstack.UDPSocket{}
	if e := k.UDP.Bind(sock, addr); e != 0 {
		return e.Negated()
	}
	sa.udp = sock
	return 0
}

// sysListen is a no-op beyond validating the socket already has a
// listener from sysBind — this core's listeners have no separate
// backlog-size concept to configure (spec.md §4.10's minimal subset).
func sysListen(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	if sa.listener == nil && sa.unixListener == nil {
		return errno.EINVAL.Negated()
	}
	return 0
}

// sysAccept blocks until the listener's backlog is non-empty, then
// installs the accepted connection as a new stream/Unix socket fd.
func sysAccept(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	if sa.listener == nil && sa.unixListener == nil {
		return errno.EINVAL.Negated()
	}
	for {
		if sa.unixListener != nil {
			conn, ok := sa.unixListener.Accept()
			if ok {
				newSock := &sockAddr{isUnix: true, unixConn: conn}
				newFD, e := t.Proc.FDs.Install(&fd.File{Kind: fd.KindUnix, Backend: newSock})
				if e != 0 {
					return e.Negated()
				}
				return int64(newFD)
			}
		} else {
			conn, ok := sa.listener.Accept()
			if ok {
				newSock := &sockAddr{isStream: true, tcp: conn}
				newFD, e := t.Proc.FDs.Install(&fd.File{Kind: fd.KindTCP, Backend: newSock})
				if e != 0 {
					return e.Negated()
				}
				return int64(newFD)
			}
		}
		t.Proc.SetBlocked(k.RunQ, t.Thread)
		sched.BlockCurrentFor(t.Thread, true)
		t.Proc.ClearBlocked()
		if t.Proc.Signals.Deliverable() {
			return errno.EINTR.Negated()
		}
	}
}

// sysConnect: a[1]/a[2] are the destination ip/port exactly like sysBind
// for AF_INET sockets, or a[1] alone is the target's bound handle for
// AF_UNIX. Datagram sockets just record a default peer for future sendto
// calls without one; stream and Unix sockets perform the full loopback
// handshake.
func sysConnect(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	if sa.isUnix {
		conn, e := k.Unix.Connect(uint32(a[1]))
		if e != 0 {
			return e.Negated()
		}
		sa.unixConn = conn
		return 0
	}
	dst := addrFromArgs(uint32(a[1]), uint16(a[2]))
	if !sa.isStream {
		if sa.udp == nil {
			sa.udp = &netstack.UDPSocket{}
			if e := k.UDP.Bind(sa.udp, netip.AddrPortFrom(dst.Addr(), 0)); e != 0 {
				return e.Negated()
			}
		}
		return 0
	}
	conn, e := k.TCP.Connect(dst)
	if e != 0 {
		return e.Negated()
	}
	sa.tcp = conn
	return 0
}

// sysSendto: a[0] fd, a[1] user buffer, a[2] length, a[3]/a[4] dst ip/
// port (datagram sockets only — a stream or Unix socket's peer is
// whatever connect/accept already bound it to, and ip/port are ignored).
// The actual delivery into the peer's queue is handed to the loopback
// work queue (spec.md §4.10/§5: delivery must never happen synchronously
// on the sender's own call stack, since the peer's wakeup path may need
// locks the sender already holds) — only the precondition check (is
// there actually a peer to deliver to) happens inline, so callers still
// see EPIPE/EBADF immediately rather than after an async failure.
func sysSendto(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	buf := make([]byte, int(a[2]))
	if ce := CopyFromUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf); ce != 0 {
		return ce.Negated()
	}

	if sa.isUnix {
		if sa.unixConn == nil {
			return errno.EPIPE.Negated()
		}
		conn := sa.unixConn
		k.Loop.Defer(func() { conn.Send(buf) })
		return int64(len(buf))
	}

	if sa.isStream {
		if sa.tcp == nil || !sa.tcp.Ready() {
			return errno.EPIPE.Negated()
		}
		conn := sa.tcp
		k.Loop.Defer(func() { conn.Send(buf) })
		return int64(len(buf))
	}

	if sa.udp == nil {
		return errno.EBADF.Negated()
	}
	from := sa.udp.LocalAddr()
	dst := addrFromArgs(uint32(a[3]), uint16(a[4]))
	k.Loop.Defer(func() { k.UDP.SendTo(from, dst, buf) })
	return int64(len(buf))
}

// sysRecvfrom mirrors sysSendto for the read direction; a[3] nonzero
// requests non-blocking semantics (returning EAGAIN immediately rather
// than parking the thread).
func sysRecvfrom(k *Kernel, t *Task, a Args) int64 {
	_, sa, e := sockFile(t, int(a[0]))
	if e != 0 {
		return e.Negated()
	}
	length := int(a[2])
	nonBlocking := a[3] != 0
	buf := make([]byte, length)

	if sa.isUnix {
		if sa.unixConn == nil {
			return errno.EBADF.Negated()
		}
		for {
			n, e := sa.unixConn.Recv(buf)
			if e == errno.EAGAIN {
				if nonBlocking {
					return e.Negated()
				}
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
			if n > 0 {
				if ce := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf[:n]); ce != 0 {
					return ce.Negated()
				}
			}
			return int64(n)
		}
	}

	if sa.isStream {
		if sa.tcp == nil {
			return errno.EBADF.Negated()
		}
		for {
			n, e := sa.tcp.Recv(buf)
			if e == errno.EAGAIN {
				if nonBlocking {
					return e.Negated()
				}
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
			if n > 0 {
				if ce := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf[:n]); ce != 0 {
					return ce.Negated()
				}
			}
			return int64(n)
		}
	}

	if sa.udp == nil {
		return errno.EBADF.Negated()
	}
	for {
		n, _, e := sa.udp.RecvFrom(buf, true)
		if e == errno.EAGAIN {
			if nonBlocking {
				return e.Negated()
			}
			// Blocks on the datagram's own wait channel rather than going
			// through sched.BlockCurrentFor, so unlike the stream and pipe
			// paths above this one doesn't observe a signal sent while
			// parked here — acceptable for UDP's best-effort semantics.
			<-sa.udp.WaitChan()
			continue
		}
		if e != 0 {
			return e.Negated()
		}
		if ce := CopyToUser(t.Proc.Space, k.Arena, uintptr(a[1]), buf[:n]); ce != 0 {
			return ce.Negated()
		}
		return int64(n)
	}
}
