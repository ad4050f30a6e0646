package virtio

import (
	"github.com/sasha-s/go-deadlock"

	"nucleus/internal/errno"
	"nucleus/internal/hal"
)

// Status register bits, the exact init sequence spec.md §4.9 mandates:
// reset -> ACKNOWLEDGE -> DRIVER -> feature negotiation -> FEATURES_OK ->
// virtqueue setup -> DRIVER_OK.
const (
	StatusAcknowledge = 1
	StatusDriver      = 2
	StatusDriverOK    = 4
	StatusFeaturesOK  = 8
	StatusFailed      = 128
)

// DeviceID identifies what a probed slot is.
type DeviceID uint32

const (
	DeviceNone    DeviceID = 0
	DeviceNetwork DeviceID = 1
	DeviceBlock   DeviceID = 2
	DeviceConsole DeviceID = 3
)

// MaxMMIOSlots is the number of device slots probed at boot (spec.md
// §4.9: "probes 32 MMIO slots").
const MaxMMIOSlots = 32

const (
	regMagic        = 0
	regVersion      = 1
	regDeviceID     = 2
	regStatus       = 3
	regDeviceFeat   = 4
	regDriverFeat   = 5
	regQueueNotify  = 6
)

const magicValue = 0x74726976 // "virt" little-endian, per the VirtIO MMIO spec

// Slot is one simulated MMIO device slot.
type Slot struct {
	regs     *hal.MMIO32
	deviceID DeviceID
	present  bool
}

// NewSlot builds a populated slot — the hosted stand-in for the bus
// discovery firmware would otherwise do by scanning a real MMIO region.
func NewSlot(id DeviceID) *Slot {
	s := &Slot{regs: hal.NewMMIO32(8), deviceID: id, present: id != DeviceNone}
	if s.present {
		s.regs.Store(regMagic, magicValue)
		s.regs.Store(regVersion, 2)
		s.regs.Store(regDeviceID, uint32(id))
	}
	return s
}

func (s *Slot) Magic() uint32     { return s.regs.Load(regMagic) }
func (s *Slot) Version() uint32   { return s.regs.Load(regVersion) }
func (s *Slot) DeviceID() DeviceID { return DeviceID(s.regs.Load(regDeviceID)) }
func (s *Slot) Status() uint32    { return s.regs.Load(regStatus) }

// Bus holds the fixed 32-slot MMIO transport address space (spec.md
// §4.9).
type Bus struct {
	mu    deadlock.Mutex
	slots [MaxMMIOSlots]*Slot
}

func NewBus() *Bus {
	b := &Bus{}
	for i := range b.slots {
		b.slots[i] = NewSlot(DeviceNone)
	}
	return b
}

func (b *Bus) Install(index int, s *Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[index] = s
}

// Probe scans every slot's magic/version/device-id registers and returns
// the ones that are real devices, in slot order (spec.md §4.9).
func (b *Bus) Probe() []*Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found []*Slot
	for _, s := range b.slots {
		if s.regs.Load(regMagic) != magicValue {
			continue
		}
		if DeviceID(s.regs.Load(regDeviceID)) == DeviceNone {
			continue
		}
		found = append(found, s)
	}
	return found
}

// Device is an initialized virtio device: a slot plus its negotiated
// queues.
type Device struct {
	Slot       *Slot
	Queues     []*Queue
	negotiated uint32
}

// Init runs the mandatory status-register sequence (spec.md §4.9):
// reset, ACKNOWLEDGE, DRIVER, feature negotiation against wantFeatures,
// FEATURES_OK (aborting if the device didn't accept), queue setup, then
// DRIVER_OK. Returns ENODEV-equivalent EIO if FEATURES_OK doesn't stick.
func Init(s *Slot, wantFeatures uint32, queueSizes []uint16) (*Device, errno.Errno) {
	s.regs.Store(regStatus, 0) // reset
	s.regs.Store(regStatus, StatusAcknowledge)
	s.regs.Store(regStatus, StatusAcknowledge|StatusDriver)

	offered := s.regs.Load(regDeviceFeat)
	negotiated := offered & wantFeatures
	s.regs.Store(regDriverFeat, negotiated)

	s.regs.Store(regStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK)
	if s.regs.Load(regStatus)&StatusFeaturesOK == 0 {
		s.regs.Store(regStatus, StatusFailed)
		return nil, errno.EIO
	}

	dev := &Device{Slot: s, negotiated: negotiated}
	for _, qsize := range queueSizes {
		q, ok := NewQueue(qsize)
		if !ok {
			s.regs.Store(regStatus, StatusFailed)
			return nil, errno.EINVAL
		}
		dev.Queues = append(dev.Queues, q)
	}

	s.regs.Store(regStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK|StatusDriverOK)
	return dev, 0
}

// Notify writes the notify register for a queue index the way
// virtqueueNotify does: the queue index is stored in the notify register,
// and nothing further happens since there is no real device-side interrupt
// controller to signal.
func (d *Device) Notify(queueIdx int) {
	d.Slot.regs.Store(regQueueNotify, uint32(queueIdx))
}

func (d *Device) NegotiatedFeatures() uint32 { return d.negotiated }
