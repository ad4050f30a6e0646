package fd_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/errno"
	"nucleus/internal/fd"
)

func TestInstallLowestFreeSlotAndClose(t *testing.T) {
	tb := fd.NewTable()
	a, e := tb.Install(&fd.File{Kind: fd.KindRegular})
	require.EqualValues(t, 0, e)
	require.Equal(t, 0, a)

	b, e := tb.Install(&fd.File{Kind: fd.KindRegular})
	require.EqualValues(t, 0, e)
	require.Equal(t, 1, b)

	require.EqualValues(t, 0, tb.Close(a))
	c, e := tb.Install(&fd.File{Kind: fd.KindRegular})
	require.EqualValues(t, 0, e)
	require.Equal(t, 0, c)
}

func TestDup2OldEqualsNewIsNoop(t *testing.T) {
	tb := fd.NewTable()
	a, _ := tb.Install(&fd.File{Kind: fd.KindRegular})
	require.EqualValues(t, 0, tb.Dup2(a, a))
	_, e := tb.Get(a)
	require.EqualValues(t, 0, e)
}

func TestDup2SharesFileAndClosesOldTarget(t *testing.T) {
	tb := fd.NewTable()
	a, _ := tb.Install(&fd.File{Kind: fd.KindRegular})
	b, _ := tb.Install(&fd.File{Kind: fd.KindRegular})
	require.EqualValues(t, 0, tb.Dup2(a, b))

	fa, _ := tb.Get(a)
	fb, _ := tb.Get(b)
	require.Same(t, fa, fb)
}

func TestPipeAtomicWriteAndEAGAINWhenFull(t *testing.T) {
	p := fd.NewPipe()
	n, e := p.Write([]byte("hello"), false)
	require.EqualValues(t, 0, e)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, e = p.Read(buf)
	require.EqualValues(t, 0, e)
	require.Equal(t, "hello", string(buf[:n]))

	// Fill the ring to capacity; a further non-blocking write gets EAGAIN.
	n, e = p.Write(make([]byte, fd.PipeCapacity), true)
	require.EqualValues(t, 0, e)
	require.Equal(t, fd.PipeCapacity, n)
	_, e = p.Write([]byte("x"), true)
	require.Equal(t, errno.EAGAIN, e)
}

func TestPipeEOFAfterWriterCloses(t *testing.T) {
	p := fd.NewPipe()
	p.CloseWriter()
	n, e := p.Read(make([]byte, 8))
	require.EqualValues(t, 0, e)
	require.Equal(t, 0, n)
}

func TestPipeEPIPEAfterReaderCloses(t *testing.T) {
	p := fd.NewPipe()
	p.CloseReader()
	_, e := p.Write([]byte("x"), false)
	require.Equal(t, errno.EPIPE, e)
}

func TestPollPipeReadyAndHup(t *testing.T) {
	tb := fd.NewTable()
	r, w, e := tb.NewPipePair()
	require.EqualValues(t, 0, e)

	wf, _ := tb.Get(w)
	wf.Pipe.Write([]byte("x"), false)

	fds := []fd.PollFD{{FD: r, Events: fd.POLLIN}}
	n := fd.Poll(tb, fds)
	require.Equal(t, 1, n)
	require.NotZero(t, fds[0].Revents&fd.POLLIN)

	rf, _ := tb.Get(r)
	rf.Pipe.Read(make([]byte, 1))
	require.EqualValues(t, 0, tb.Close(w))
	fds[0].Revents = 0
	n = fd.Poll(tb, fds)
	require.Equal(t, 1, n)
	require.NotZero(t, fds[0].Revents&fd.POLLHUP)
}
