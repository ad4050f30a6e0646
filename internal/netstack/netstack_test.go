package netstack_test

import (
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/errno"
	"nucleus/internal/netstack"
	"nucleus/internal/sched"
)

func TestChecksumMatchesKnownVector(t *testing.T) {
	// RFC 1071 worked example: 0x0001 0xf203 0xf4f5 0xf6f7 checksums to 0x220d.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	require.EqualValues(t, 0x220d, netstack.Checksum(0, data))
}

func TestUDPBindAssignsEphemeralPortAndRejectsDoubleBind(t *testing.T) {
	stack := netstack.NewUDPStack()
	a := &netstack.UDPSocket{}
	addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0)
	require.EqualValues(t, 0, stack.Bind(a, addr))
	require.NotZero(t, a.LocalAddr().Port())

	b := &netstack.UDPSocket{}
	require.Equal(t, errno.EADDRINUSE, stack.Bind(b, a.LocalAddr()))
}

func TestUDPSendToDeliversToboundSocket(t *testing.T) {
	stack := netstack.NewUDPStack()
	recv := &netstack.UDPSocket{}
	dst := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 9000)
	require.EqualValues(t, 0, stack.Bind(recv, dst))

	from := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 9001)
	require.EqualValues(t, 0, stack.SendTo(from, dst, []byte("ping")))

	buf := make([]byte, 16)
	n, gotFrom, e := recv.RecvFrom(buf, true)
	require.EqualValues(t, 0, e)
	require.Equal(t, "ping", string(buf[:n]))
	require.Equal(t, from, gotFrom)
}

func TestTCPHandshakeAndClose(t *testing.T) {
	server := netstack.NewTCPConn()
	server.Listen()
	require.Equal(t, netstack.TCPListen, server.State())

	server.ReceiveSyn()
	require.Equal(t, netstack.TCPSynReceived, server.State())
	server.ReceiveAck()
	require.Equal(t, netstack.TCPEstablished, server.State())

	server.ReceiveFin()
	require.Equal(t, netstack.TCPCloseWait, server.State())
	require.True(t, server.PollHup())
}

func TestLoopbackDeliveryIsDeferredNotInline(t *testing.T) {
	wq := sched.NewWorkQueue(4)
	defer wq.Stop()
	lb := netstack.NewLoopback(wq)

	var delivered atomic.Bool
	lb.Defer(func() { delivered.Store(true) })
	lb.Flush()
	require.True(t, delivered.Load())
}
