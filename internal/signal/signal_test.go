package signal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/errno"
	"nucleus/internal/signal"
)

func TestActionTableRejectsKillAndStop(t *testing.T) {
	s := signal.NewState()
	require.Equal(t, errno.EINVAL, s.SetAction(signal.SIGKILL, signal.Action{}))
	require.Equal(t, errno.EINVAL, s.SetAction(signal.SIGSTOP, signal.Action{}))
	require.EqualValues(t, 0, s.SetAction(signal.SIGUSR1, signal.Action{Disposition: signal.DispositionHandler}))
}

func TestLowestNumberedSignalWinsTies(t *testing.T) {
	s := signal.NewState()
	s.Raise(signal.SIGTERM)
	s.Raise(signal.SIGUSR1)
	s.Raise(signal.SIGINT)

	first, ok := s.NextDeliverable()
	require.True(t, ok)
	require.Equal(t, signal.SIGINT, first)
}

func TestBlockedSignalsAreNotDeliverable(t *testing.T) {
	s := signal.NewState()
	s.Raise(signal.SIGUSR1)
	s.SetBlocked(1 << uint(signal.SIGUSR1))
	require.False(t, s.Deliverable())

	s.SetBlocked(0)
	require.True(t, s.Deliverable())
}

func TestDeliverAndSigReturnRoundTripsRegistersAndMask(t *testing.T) {
	s := signal.NewState()
	s.SetBlocked(1 << uint(signal.SIGUSR2))

	regs := signal.NewRegisterFile()
	regs.CalleeSaved["r12"] = 0xDEADBEEF
	regs.CalleeSaved["rbx"] = 0xCAFEBABE

	action := signal.Action{Disposition: signal.DispositionHandler, Mask: 0}
	frame := signal.Deliver(s, signal.SIGUSR1, action, regs)

	// handler clobbers its own copy; the snapshot inside frame must be
	// unaffected.
	regs.CalleeSaved["r12"] = 0x0
	regs.CalleeSaved["rbx"] = 0x0

	restored := signal.SigReturn(s, frame)
	require.EqualValues(t, 0xDEADBEEF, restored.CalleeSaved["r12"])
	require.EqualValues(t, 0xCAFEBABE, restored.CalleeSaved["rbx"])
	require.EqualValues(t, 1<<uint(signal.SIGUSR2), s.Blocked())
}

func TestSigAltStackRejectsNestingAndUndersizedStack(t *testing.T) {
	s := signal.NewState()
	ok := signal.AltStack{SP: 0x1000, Size: signal.MinSigStkSz}
	require.EqualValues(t, 0, s.SigAltStack(&ok, nil))

	tooSmall := signal.AltStack{SP: 0x2000, Size: 1024}
	require.Equal(t, errno.EINVAL, s.SigAltStack(&tooSmall, nil))

	s.EnterAltStack()
	require.Equal(t, errno.EINVAL, s.SigAltStack(&ok, nil))
	s.LeaveAltStack()
	require.EqualValues(t, 0, s.SigAltStack(&ok, nil))
}

func TestSetItimerOnlyRealSupported(t *testing.T) {
	s := signal.NewState()
	_, _, e := s.SetItimer(signal.TimerVirtual, 1, 1)
	require.Equal(t, errno.ENOSYS, e)

	_, _, e = s.SetItimer(signal.TimerReal, 1000, 1000)
	require.EqualValues(t, 0, e)

	fired := s.TickReal(2500)
	require.Equal(t, 2, fired)
	require.True(t, s.Deliverable())
}
