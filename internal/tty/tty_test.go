package tty_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/errno"
	"nucleus/internal/signal"
	"nucleus/internal/tty"
)

func TestCanonicalModeErasesAndAssemblesLine(t *testing.T) {
	d := tty.NewLineDiscipline()
	d.Input([]byte("helpl"), nil)
	d.Input([]byte{d.GetTermios().Cc[tty.VERASE]}, nil) // erase the stray 'l'
	d.Input([]byte("lo\n"), nil)

	line, ok := d.ReadLine()
	require.True(t, ok)
	require.Equal(t, "hello\n", string(line))
}

func TestKillDiscardsWholeLine(t *testing.T) {
	d := tty.NewLineDiscipline()
	d.Input([]byte("garbage"), nil)
	d.Input([]byte{d.GetTermios().Cc[tty.VKILL]}, nil)
	d.Input([]byte("ok\n"), nil)

	line, ok := d.ReadLine()
	require.True(t, ok)
	require.Equal(t, "ok\n", string(line))
}

func TestRawModeDeliversByteImmediately(t *testing.T) {
	d := tty.NewLineDiscipline()
	raw := tty.DefaultTermios()
	raw.MakeRaw()
	d.SetTermios(raw)

	d.Input([]byte("a"), nil)
	line, ok := d.ReadLine()
	require.True(t, ok)
	require.Equal(t, "a", string(line))
}

func TestIntrRaisesSIGINTAndIsNotBuffered(t *testing.T) {
	d := tty.NewLineDiscipline()
	s := signal.NewState()
	d.SetSignalTarget(s)

	d.Input([]byte{d.GetTermios().Cc[tty.VINTR]}, nil)
	require.True(t, s.Deliverable())
	require.Equal(t, 0, d.Pending())
}

func TestForegroundPgid(t *testing.T) {
	d := tty.NewLineDiscipline()
	d.SetForegroundPgid(42)
	require.EqualValues(t, 42, d.ForegroundPgid())
}

func TestPTYLifecycleLockedUntilUnlocked(t *testing.T) {
	pool := tty.NewPool()
	pair := pool.OpenPT()

	require.Equal(t, errno.EPERM, pool.OpenSlave(pair))
	require.EqualValues(t, 0, pool.GrantPT(pair))
	require.EqualValues(t, 0, pool.UnlockPT(pair))
	require.EqualValues(t, 0, pool.OpenSlave(pair))
}

func TestPTYHupOnceMasterClosed(t *testing.T) {
	pool := tty.NewPool()
	pair := pool.OpenPT()
	require.False(t, pair.MasterClosed())
	pair.CloseMaster()
	require.True(t, pair.MasterClosed())
}
