package virtio

import "nucleus/internal/errno"

// BlockDevice is a minimal virtio-blk consumer: a read-only, in-memory
// backing store addressed by 512-byte sectors, enough to exercise the
// probe/init/virtqueue path end-to-end without a real disk image (spec.md
// §4.9's block consumer requirement; the scenario runner in internal/btrt
// is the only caller that needs more than request/response plumbing).
type BlockDevice struct {
	Dev     *Device
	backing []byte
}

const SectorSize = 512

func NewBlockDevice(dev *Device, backing []byte) *BlockDevice {
	return &BlockDevice{Dev: dev, backing: backing}
}

// ReadSector copies one sector's worth of the backing store into dst via
// the device's first queue, round-tripping through AddDesc/
// PublishAvailable/ConsumeAvailable/PublishUsed/GetUsed the way a real
// request would, so the ring-management code path is actually exercised.
func (b *BlockDevice) ReadSector(sector uint64, dst []byte) errno.Errno {
	if len(dst) < SectorSize {
		return errno.EINVAL
	}
	off := sector * SectorSize
	if off+SectorSize > uint64(len(b.backing)) {
		return errno.EIO
	}

	q := b.Dev.Queues[0]
	descIdx := q.AddDesc(off, SectorSize, DescFWrite, 0)
	q.PublishAvailable(descIdx)

	var lastAvail uint16
	gotIdx, ok := q.ConsumeAvailable(&lastAvail)
	if !ok {
		return errno.EIO
	}
	copy(dst[:SectorSize], b.backing[off:off+SectorSize])
	q.PublishUsed(uint32(gotIdx), SectorSize)

	_, _, ok = q.GetUsed()
	if !ok {
		return errno.EIO
	}
	return 0
}

// NetDevice is a minimal virtio-net consumer: frames written to it are
// appended to an outbound queue a loopback/netstack consumer can drain
// (spec.md §4.9/§4.10 integration point).
type NetDevice struct {
	Dev     *Device
	Outbox  [][]byte
}

func NewNetDevice(dev *Device) *NetDevice { return &NetDevice{Dev: dev} }

func (n *NetDevice) Transmit(frame []byte) {
	cp := append([]byte(nil), frame...)
	n.Outbox = append(n.Outbox, cp)
}

func (n *NetDevice) Drain() [][]byte {
	out := n.Outbox
	n.Outbox = nil
	return out
}

// ConsoleDevice is a minimal virtio-console consumer: bytes written
// arrive in an inbound buffer a tty line discipline can pull from.
type ConsoleDevice struct {
	Dev  *Device
	Recv []byte
}

func NewConsoleDevice(dev *Device) *ConsoleDevice { return &ConsoleDevice{Dev: dev} }

func (c *ConsoleDevice) DeliverFromHost(data []byte) {
	c.Recv = append(c.Recv, data...)
}

func (c *ConsoleDevice) Drain() []byte {
	out := c.Recv
	c.Recv = nil
	return out
}
