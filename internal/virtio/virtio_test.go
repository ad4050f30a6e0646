package virtio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/virtio"
)

func TestBusProbeFindsOnlyPopulatedSlots(t *testing.T) {
	bus := virtio.NewBus()
	bus.Install(3, virtio.NewSlot(virtio.DeviceBlock))
	bus.Install(9, virtio.NewSlot(virtio.DeviceConsole))

	found := bus.Probe()
	require.Len(t, found, 2)
}

func TestInitSequenceReachesDriverOK(t *testing.T) {
	slot := virtio.NewSlot(virtio.DeviceBlock)
	dev, e := virtio.Init(slot, 0xFFFFFFFF, []uint16{8})
	require.EqualValues(t, 0, e)
	require.Len(t, dev.Queues, 1)
	require.EqualValues(t, 8, dev.Queues[0].Size())
}

func TestQueueRejectsNonPowerOfTwoSize(t *testing.T) {
	_, ok := virtio.NewQueue(7)
	require.False(t, ok)
}

func TestDescChainRoundTripFreesDescriptors(t *testing.T) {
	q, ok := virtio.NewQueue(4)
	require.True(t, ok)
	require.EqualValues(t, 4, q.NumFree())

	idx := q.AddDesc(0x1000, 512, 0, 0)
	require.EqualValues(t, 3, q.NumFree())

	q.FreeDescChain(idx)
	require.EqualValues(t, 4, q.NumFree())
}

func TestBlockDeviceReadSectorRoundTrips(t *testing.T) {
	slot := virtio.NewSlot(virtio.DeviceBlock)
	dev, e := virtio.Init(slot, 0xFFFFFFFF, []uint16{8})
	require.EqualValues(t, 0, e)

	backing := make([]byte, virtio.SectorSize*2)
	copy(backing[virtio.SectorSize:], []byte("sector one payload"))
	blk := virtio.NewBlockDevice(dev, backing)

	dst := make([]byte, virtio.SectorSize)
	require.EqualValues(t, 0, blk.ReadSector(1, dst))
	require.Contains(t, string(dst), "sector one payload")
}
