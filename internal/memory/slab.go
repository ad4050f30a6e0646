package memory

import (
	"github.com/go-errors/errors"
	"github.com/sasha-s/go-deadlock"
)

// Slab is a pre-allocated, fixed-slot-size cache: a word-bitmap marks live
// slots, alloc scans for the first zero bit, Free takes the slot index
// Alloc returned, rejects a double free, and clears the bit — spec.md §3/§4.1. There
// are no shared static caches: each fd.Table builds its own Slab, and the
// signal-action array is a plain array inside signal.State.
type Slab struct {
	mu         deadlock.Mutex
	storage    []byte
	objectSize uint32
	capacity   uint32
	bitmap     []uint64
	allocated  uint32
}

// ErrSlabFull is returned when a slab has no free slot; callers fall back
// to the global heap per spec.md §4.1 ("Allocation failure ... slab full
// ... transparently falls back to the global heap").
var ErrSlabFull = errors.New("memory: slab cache full")

// NewSlab builds a cache of `capacity` fixed-size slots.
func NewSlab(objectSize, capacity uint32) *Slab {
	return &Slab{
		storage:    make([]byte, objectSize*capacity),
		objectSize: objectSize,
		capacity:   capacity,
		bitmap:     make([]uint64, (capacity+63)/64),
	}
}

func (s *Slab) testBit(i uint32) bool { return s.bitmap[i/64]&(1<<(i%64)) != 0 }
func (s *Slab) setBit(i uint32)       { s.bitmap[i/64] |= 1 << (i % 64) }
func (s *Slab) clearBit(i uint32)     { s.bitmap[i/64] &^= 1 << (i % 64) }

// Alloc scans for the first free slot, zeroes it, and returns its index.
// Full bitmap words are skipped whole, so the scan is O(capacity/64) word
// checks plus at most 64 bit checks.
func (s *Slab) Alloc() (uint32, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := uint32(0); w < uint32(len(s.bitmap)); w++ {
		if s.bitmap[w] == ^uint64(0) {
			continue
		}
		for i := w * 64; i < w*64+64 && i < s.capacity; i++ {
			if !s.testBit(i) {
				s.setBit(i)
				s.allocated++
				start := i * s.objectSize
				slot := s.storage[start : start+s.objectSize]
				for j := range slot {
					slot[j] = 0
				}
				return i, slot, nil
			}
		}
	}
	return 0, nil, ErrSlabFull
}

// Free clears slot i's bit after asserting it was actually allocated
// (catches double-free, spec.md §4.1: "asserts... non-double-free").
func (s *Slab) Free(i uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= s.capacity {
		return errors.Errorf("memory: slab Free: index %d out of range", i)
	}
	if !s.testBit(i) {
		return errors.Errorf("memory: slab Free: double free of slot %d", i)
	}
	s.clearBit(i)
	s.allocated--
	return nil
}

// Slot returns the live bytes for slot i without allocating.
func (s *Slab) Slot(i uint32) []byte {
	start := i * s.objectSize
	return s.storage[start : start+s.objectSize]
}

func (s *Slab) Allocated() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

func (s *Slab) Capacity() uint32 { return s.capacity }

// Owned is the uniform ownership wrapper spec.md §3/§4.1 describes: it
// holds either a slab slot or a heap allocation, and Release runs the
// right teardown path depending on which pool it came from.
type Owned struct {
	slab     *Slab
	slabIdx  uint32
	heap     *Heap
	heapOff  uint32
	heapSize uint32
	fromSlab bool
}

// AllocOwned tries the slab first, falling back to the heap on
// ErrSlabFull, exactly the fallback order spec.md §4.1 specifies.
func AllocOwned(s *Slab, h *Heap, size uint32) (Owned, []byte, error) {
	if idx, slot, err := s.Alloc(); err == nil {
		return Owned{slab: s, slabIdx: idx, fromSlab: true}, slot, nil
	}
	off, ok := h.Alloc(size)
	if !ok {
		return Owned{}, nil, errors.New("memory: AllocOwned: heap exhausted (ENOMEM)")
	}
	return Owned{heap: h, heapOff: off, heapSize: size, fromSlab: false}, h.Bytes(off, size), nil
}

// Release returns the memory to whichever pool it came from.
func (o Owned) Release() error {
	if o.fromSlab {
		return o.slab.Free(o.slabIdx)
	}
	if o.heap != nil {
		return o.heap.Free(o.heapOff)
	}
	return nil
}
