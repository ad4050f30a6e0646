package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nucleus/internal/hal"
	"nucleus/internal/memory"
)

func TestFrameAllocatorAllocFreeRefcount(t *testing.T) {
	fa := memory.NewFrameAllocator(16, 0)
	f, ok := fa.Alloc()
	require.True(t, ok)
	require.EqualValues(t, 1, fa.RefCount(f))

	fa.IncRef(f)
	require.EqualValues(t, 2, fa.RefCount(f))

	require.EqualValues(t, 1, fa.DecRef(f))
	require.EqualValues(t, 0, fa.DecRef(f))
	require.EqualValues(t, 16, fa.FreeCount())
}

func TestHeapBestFitSplitAndCoalesce(t *testing.T) {
	arena := memory.NewArena(64 * 1024)
	h := memory.NewHeap(arena.Bytes(), 0, 4096)

	a, ok := h.Alloc(64)
	require.True(t, ok)
	b, ok := h.Alloc(64)
	require.True(t, ok)
	c, ok := h.Alloc(64)
	require.True(t, ok)

	require.NoError(t, h.Free(b))
	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(c))

	// After freeing everything the whole region should be reclaimable as
	// one big allocation again (proves coalescing merged all three back).
	big, ok := h.Alloc(4096 - 3*16 - 16)
	require.True(t, ok)
	_ = big
}

func TestSlabAllocFreeDoubleFreeRejected(t *testing.T) {
	s := memory.NewSlab(32, 4)
	idx, slot, err := s.Alloc()
	require.NoError(t, err)
	require.Len(t, slot, 32)
	require.EqualValues(t, 1, s.Allocated())

	require.NoError(t, s.Free(idx))
	require.Error(t, s.Free(idx)) // double free must be rejected
}

func TestSlabFallsBackToHeapWhenFull(t *testing.T) {
	s := memory.NewSlab(16, 1)
	arena := memory.NewArena(64 * 1024)
	h := memory.NewHeap(arena.Bytes(), 0, 4096)

	_, _, err := memory.AllocOwned(s, h, 16)
	require.NoError(t, err)
	owned2, slot2, err := memory.AllocOwned(s, h, 16) // slab full now, falls back
	require.NoError(t, err)
	require.Len(t, slot2, 16)
	require.NoError(t, owned2.Release())
}

func TestVMAListInsertOverlapAndMunmapSplit(t *testing.T) {
	l := memory.NewVMAList()
	require.NoError(t, l.Insert(memory.VMA{Start: 0x1000, End: 0x5000, Prot: hal.ProtR | hal.ProtW, Flags: memory.VMAPrivate}))

	err := l.Insert(memory.VMA{Start: 0x4000, End: 0x6000})
	require.ErrorIs(t, err, memory.ErrOverlap)

	// munmap a hole in the middle: should split into two surviving VMAs
	require.NoError(t, l.Remove(0x2000, 0x3000))
	all := l.All()
	require.Len(t, all, 2)
	require.Equal(t, uintptr(0x1000), all[0].Start)
	require.Equal(t, uintptr(0x2000), all[0].End)
	require.Equal(t, uintptr(0x3000), all[1].Start)
	require.Equal(t, uintptr(0x5000), all[1].End)

	require.ErrorIs(t, l.Remove(0x8000, 0x9000), memory.ErrNotFound)
}

func TestFindFreeRegionTopDown(t *testing.T) {
	l := memory.NewVMAList()
	addr, ok := l.FindFreeRegion(hal.Page, 0)
	require.True(t, ok)
	require.Equal(t, memory.MmapRegionEnd-hal.Page, addr)
}
