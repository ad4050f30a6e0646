package procmgr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nucleus/internal/errno"
	"nucleus/internal/hal"
	"nucleus/internal/memory"
	"nucleus/internal/procmgr"
	"nucleus/internal/sched"
)

func TestPIDTableCreateAssignsIncrementingPIDs(t *testing.T) {
	tb := procmgr.NewTable()
	init := tb.Create(0)
	require.EqualValues(t, 1, init.PID)

	child := tb.Create(init.PID)
	require.EqualValues(t, 2, child.PID)
	require.Equal(t, []int64{2}, init.Children)
}

func TestForkSharesFramesCopyOnWrite(t *testing.T) {
	arena := memory.NewArena(64 * hal.Page)
	frames := memory.NewFrameAllocator(arena.Frames(), 0)

	parent := procmgr.NewAddressSpace()
	require.NoError(t, parent.VMAs.Insert(memory.VMA{Start: 0x1000, End: 0x2000, Prot: hal.ProtR | hal.ProtW, Flags: memory.VMAPrivate}))
	f, ok := frames.Alloc()
	require.True(t, ok)
	parent.Pages.Map(0x1000, hal.PTE{Frame: f, Prot: hal.ProtR | hal.ProtW, Present: true})
	copy(arena.Page(f), []byte("parent-data"))

	child := procmgr.Fork(parent, frames)

	pe, _ := parent.Pages.Lookup(0x1000)
	ce, _ := child.Pages.Lookup(0x1000)
	require.True(t, pe.COW)
	require.True(t, ce.COW)
	require.Equal(t, pe.Frame, ce.Frame)
	require.EqualValues(t, 2, frames.RefCount(f))

	// Child writes: must copy, parent's frame stays untouched.
	e := procmgr.CopyOnWrite(child, arena, frames, 0x1000)
	require.EqualValues(t, 0, e)
	ce2, _ := child.Pages.Lookup(0x1000)
	require.NotEqual(t, pe.Frame, ce2.Frame)
	require.Equal(t, "parent-data", string(arena.Page(pe.Frame)[:11]))
	require.EqualValues(t, 1, frames.RefCount(pe.Frame))
}

func TestWaitpidReturnsECHILDWithNoChildren(t *testing.T) {
	tb := procmgr.NewTable()
	q := sched.NewRunQueue()
	caller := tb.Create(0)
	th := sched.NewThread(caller.PID, caller.PID)

	_, e := procmgr.Wait(tb, q, caller, th, -1, 0)
	require.Equal(t, errno.ECHILD, e)
}

func TestWaitpidWNOHANGReturnsZeroPIDWhenNoZombie(t *testing.T) {
	tb := procmgr.NewTable()
	q := sched.NewRunQueue()
	caller := tb.Create(0)
	tb.Create(caller.PID)

	res, e := procmgr.Wait(tb, q, caller, sched.NewThread(1, 1), -1, procmgr.WNOHANG)
	require.Equal(t, errno.Errno(0), e)
	require.Equal(t, int64(0), res.PID)
}

func TestWaitpidCollectsZombieAndReaps(t *testing.T) {
	tb := procmgr.NewTable()
	q := sched.NewRunQueue()
	caller := tb.Create(0)
	child := tb.Create(caller.PID)
	frames := memory.NewFrameAllocator(16, 0)

	require.EqualValues(t, 0, tb.Exit(child.PID, 7, 0, frames))

	res, e := procmgr.Wait(tb, q, caller, sched.NewThread(1, 1), child.PID, 0)
	require.EqualValues(t, 0, e)
	require.Equal(t, child.PID, res.PID)
	require.Equal(t, 7, res.ExitCode)
	require.EqualValues(t, 7<<8, procmgr.EncodeStatus(res))

	_, stillThere := tb.Get(child.PID)
	require.False(t, stillThere)
}

func TestForkProcessInheritsPgidAndSharesFDs(t *testing.T) {
	tb := procmgr.NewTable()
	frames := memory.NewFrameAllocator(16, 0)
	parent := tb.Create(0)

	rfd, wfd, e := parent.FDs.NewPipePair()
	require.EqualValues(t, 0, e)

	child := tb.ForkProcess(parent, frames)
	require.Equal(t, parent.PGID, child.PGID)
	require.Equal(t, parent.PID, child.PPID)
	require.Contains(t, parent.Children, child.PID)

	// Both tables see the same pipe through their own fd numbers.
	_, e = child.FDs.Get(rfd)
	require.EqualValues(t, 0, e)
	_, e = child.FDs.Get(wfd)
	require.EqualValues(t, 0, e)
}

func TestWaitpidBlocksThenWakesOnExit(t *testing.T) {
	tb := procmgr.NewTable()
	q := sched.NewRunQueue()
	caller := tb.Create(0)
	child := tb.Create(caller.PID)
	callerThread := sched.NewThread(caller.PID, caller.PID)

	done := make(chan procmgr.WaitResult, 1)
	go func() {
		res, e := procmgr.Wait(tb, q, caller, callerThread, child.PID, 0)
		require.EqualValues(t, 0, e)
		done <- res
	}()

	// Give the waiter a chance to register and park before exiting the
	// child — Wait must still be blocked at this point, not already done.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned before child exited")
	default:
	}

	require.EqualValues(t, 0, tb.Exit(child.PID, 3, 0, memory.NewFrameAllocator(16, 0)))

	select {
	case res := <-done:
		require.Equal(t, child.PID, res.PID)
		require.Equal(t, 3, res.ExitCode)
	case <-time.After(time.Second):
		t.Fatal("Wait was not woken by Exit")
	}
}
