package btrt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/btrt"
	sc "nucleus/internal/syscall"
)

func newKernel() *sc.Kernel { return sc.NewKernel(4096, 2) }

func TestTableRecordTracksTotalsAndTrimsToCapacity(t *testing.T) {
	tbl := btrt.NewTable()
	tbl.Record(btrt.Result{TestID: 1, Name: "a", Status: btrt.StatusPass})
	tbl.Record(btrt.Result{TestID: 2, Name: "b", Status: btrt.StatusFail})
	require.Equal(t, 2, tbl.Total)
	require.Equal(t, 1, tbl.Passed)
	require.Equal(t, 1, tbl.Failed)
	require.Len(t, tbl.Entries(), 2)
}

func TestTableToJSONRoundTripsMagicAndResults(t *testing.T) {
	tbl := btrt.NewTable()
	tbl.Record(btrt.Result{TestID: 1, Name: "probe", Status: btrt.StatusPass, Detail: "ok"})
	raw, err := tbl.ToJSON()
	require.NoError(t, err)
	require.Contains(t, string(raw), "\"magic\"")
	require.Contains(t, string(raw), "probe")
}

func TestCoWStressScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "cow-stress")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestSignalRegisterPreservationScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "signal-register-preservation")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestIntervalTimerScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "interval-timer")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestPipeConcurrencyScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "pipe-concurrency")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestPollPipeHupScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "poll-pipe-hup")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestVirtioBlockProbeScenarioPasses(t *testing.T) {
	res, ok := btrt.RunOne(newKernel, "virtio-block-probe")
	require.True(t, ok)
	require.Equal(t, btrt.StatusPass, res.Status, res.Detail)
}

func TestRunExercisesEveryScenario(t *testing.T) {
	tbl := btrt.Run(newKernel)
	require.Equal(t, len(btrt.Scenarios), tbl.Total)
}

func TestRunOneUnknownNameReportsNotFound(t *testing.T) {
	_, ok := btrt.RunOne(newKernel, "no-such-scenario")
	require.False(t, ok)
}
