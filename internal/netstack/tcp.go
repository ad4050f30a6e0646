package netstack

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
)

// TCPState is the subset of RFC 793 states spec.md §4.10 requires.
type TCPState int

const (
	TCPClosed TCPState = iota
	TCPListen
	TCPSynSent
	TCPSynReceived
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

func (s TCPState) String() string {
	switch s {
	case TCPClosed:
		return "CLOSED"
	case TCPListen:
		return "LISTEN"
	case TCPSynSent:
		return "SYN_SENT"
	case TCPSynReceived:
		return "SYN_RECEIVED"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPFinWait1:
		return "FIN_WAIT_1"
	case TCPFinWait2:
		return "FIN_WAIT_2"
	case TCPCloseWait:
		return "CLOSE_WAIT"
	case TCPClosing:
		return "CLOSING"
	case TCPLastAck:
		return "LAST_ACK"
	case TCPTimeWait:
		return "TIME_WAIT"
	default:
		return "INVALID"
	}
}

// Segment flags.
const (
	FlagFIN = 1 << 0
	FlagSYN = 1 << 1
	FlagACK = 1 << 4
)

// TCPConn is one connection's state machine. Sequence-number/window
// tracking is intentionally minimal — just enough to drive the state
// transitions spec.md §4.10 names and feed the poll-readiness mapping in
// §6, not a full reliable-delivery implementation (out of scope per
// spec.md §1's "no congestion control/retransmission").
type TCPConn struct {
	mu        deadlock.Mutex
	state     TCPState
	recvQueue [][]byte
	peer      *TCPConn
}

func NewTCPConn() *TCPConn { return &TCPConn{state: TCPClosed} }

func (c *TCPConn) State() TCPState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listen: CLOSED -> LISTEN.
func (c *TCPConn) Listen() {
	c.mu.Lock()
	c.state = TCPListen
	c.mu.Unlock()
}

// ActiveOpen: CLOSED -> SYN_SENT (connect()'s effect before any reply is
// seen).
func (c *TCPConn) ActiveOpen() {
	c.mu.Lock()
	c.state = TCPSynSent
	c.mu.Unlock()
}

// ReceiveSynAck: SYN_SENT -> ESTABLISHED.
func (c *TCPConn) ReceiveSynAck() {
	c.mu.Lock()
	if c.state == TCPSynSent {
		c.state = TCPEstablished
	}
	c.mu.Unlock()
}

// ReceiveSyn (passive side, while LISTEN): LISTEN -> SYN_RECEIVED.
func (c *TCPConn) ReceiveSyn() {
	c.mu.Lock()
	if c.state == TCPListen {
		c.state = TCPSynReceived
	}
	c.mu.Unlock()
}

// ReceiveAck completes the passive handshake: SYN_RECEIVED ->
// ESTABLISHED.
func (c *TCPConn) ReceiveAck() {
	c.mu.Lock()
	if c.state == TCPSynReceived {
		c.state = TCPEstablished
	}
	c.mu.Unlock()
}

// Close is the active-close path: ESTABLISHED -> FIN_WAIT_1 -> (on
// receiving the peer's FIN+ACK) FIN_WAIT_2 -> TIME_WAIT, collapsed to the
// two calls below matching how a caller actually drives it.
func (c *TCPConn) Close() {
	c.mu.Lock()
	switch c.state {
	case TCPEstablished:
		c.state = TCPFinWait1
	case TCPCloseWait:
		c.state = TCPLastAck
	}
	c.mu.Unlock()
}

// ReceiveFin is the passive-close path: ESTABLISHED -> CLOSE_WAIT, or
// advances an active close FIN_WAIT_1 -> CLOSING or FIN_WAIT_2 -> TIME_WAIT.
func (c *TCPConn) ReceiveFin() {
	c.mu.Lock()
	switch c.state {
	case TCPEstablished:
		c.state = TCPCloseWait
	case TCPFinWait1:
		c.state = TCPClosing
	case TCPFinWait2:
		c.state = TCPTimeWait
	}
	c.mu.Unlock()
}

// ReceiveFinAck acks our own FIN while in FIN_WAIT_1, advancing to
// FIN_WAIT_2.
func (c *TCPConn) ReceiveFinAck() {
	c.mu.Lock()
	if c.state == TCPFinWait1 {
		c.state = TCPFinWait2
	} else if c.state == TCPLastAck {
		c.state = TCPClosed
	} else if c.state == TCPClosing {
		c.state = TCPTimeWait
	}
	c.mu.Unlock()
}

// TimeWaitExpire: TIME_WAIT -> CLOSED (the 2MSL timer firing).
func (c *TCPConn) TimeWaitExpire() {
	c.mu.Lock()
	if c.state == TCPTimeWait {
		c.state = TCPClosed
	}
	c.mu.Unlock()
}

// Enqueue/Dequeue move bytes through the connection once ESTABLISHED;
// poll readiness (spec.md §6) is POLLIN when recvQueue is non-empty,
// POLLHUP once the peer's FIN has moved the state past ESTABLISHED.
func (c *TCPConn) Enqueue(data []byte) {
	c.mu.Lock()
	c.recvQueue = append(c.recvQueue, append([]byte(nil), data...))
	c.mu.Unlock()
}

func (c *TCPConn) Dequeue() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recvQueue) == 0 {
		return nil, false
	}
	d := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return d, true
}

func (c *TCPConn) PollReadable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recvQueue) > 0
}

// SetPeer links this connection's send side to the other end of the pair
// TCPStack.Connect built, so Send has somewhere to deliver bytes without
// this minimal state machine needing its own address-routed send path.
func (c *TCPConn) SetPeer(p *TCPConn) {
	c.mu.Lock()
	c.peer = p
	c.mu.Unlock()
}

// Send implements the write half of sendto/send once ESTABLISHED,
// delivering straight onto the peer's recv queue (loopback, no wire
// framing — spec.md §1's simulated-transport pivot).
func (c *TCPConn) Send(data []byte) errno.Errno {
	c.mu.Lock()
	st := c.state
	peer := c.peer
	c.mu.Unlock()
	if st != TCPEstablished || peer == nil {
		return errno.EPIPE
	}
	peer.Enqueue(data)
	return 0
}

// Recv pops the next queued chunk, returning (0, 0) EOF once the peer has
// finished closing and nothing remains, or EAGAIN if still open and empty
// (the caller blocks and retries, same contract as fd.Pipe.Read).
func (c *TCPConn) Recv(dst []byte) (int, errno.Errno) {
	data, ok := c.Dequeue()
	if !ok {
		if c.PollHup() {
			return 0, 0
		}
		return 0, errno.EAGAIN
	}
	return copy(dst, data), 0
}

// Ready reports whether Send would deliver immediately — used as the
// synchronous precheck on the sendto path before the actual enqueue is
// handed to the loopback work queue.
func (c *TCPConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == TCPEstablished && c.peer != nil
}

func (c *TCPConn) PollHup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case TCPCloseWait, TCPClosing, TCPTimeWait, TCPClosed, TCPLastAck:
		return true
	default:
		return false
	}
}
