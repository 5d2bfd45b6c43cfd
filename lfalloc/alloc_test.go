package lfalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateZeroBytesIsUsable(t *testing.T) {
	p := Allocate(0)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, MaxAllocatableSize(p), uintptr(1))
	assert.True(t, Deallocate(p))
}

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	p := Allocate(16)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, MaxAllocatableSize(p), uintptr(16))
	assert.True(t, Deallocate(p))
}

func TestDoubleFreeIsRejected(t *testing.T) {
	p := Allocate(16)
	require.NotNil(t, p)
	require.True(t, Deallocate(p))
	assert.False(t, Deallocate(p), "second deallocate of the same pointer must report failure")
}

func TestDeallocateRejectsNilAndForeignPointers(t *testing.T) {
	assert.False(t, Deallocate(nil))

	var local int
	assert.False(t, Deallocate(unsafe.Pointer(&local)))
}

func TestAllocateAlignedRejectsNonPowerOfTwo(t *testing.T) {
	assert.PanicsWithValue(t, ErrNotPowerOfTwo, func() {
		_, _ = AllocateAligned(16, 3)
	})
}

func TestAllocateAlignedHonorsAlignment(t *testing.T) {
	for _, align := range []int{8, 16, 64, 4096} {
		p, err := AllocateAligned(32, align)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Zero(t, uintptr(p)%uintptr(align), "pointer %p not aligned to %d", p, align)
		assert.True(t, Deallocate(p))
	}
}

func TestSmallSlotReleasesForReuse(t *testing.T) {
	// A size not requested by any other case in this file, so the
	// non-hazard free stack for its class is empty going in.
	const size = 777

	p1 := Allocate(size)
	require.NotNil(t, p1)
	require.True(t, Deallocate(p1))

	p2 := Allocate(size)
	require.NotNil(t, p2)
	defer Deallocate(p2)

	assert.Equal(t, p1, p2, "a freed small slot should be handed back out before a new one is carved")
}

func TestBigSlotAllocatesBeyondLargestClass(t *testing.T) {
	p := Allocate(classTable[numSizeClasses-1] * 4)
	require.NotNil(t, p)
	assert.True(t, Deallocate(p))
}

func TestManySmallAllocationsAreDistinct(t *testing.T) {
	const n = 500
	ptrs := make([]unsafe.Pointer, n)
	seen := make(map[unsafe.Pointer]bool, n)
	for i := range ptrs {
		p := Allocate(32)
		require.NotNil(t, p)
		assert.False(t, seen[p], "allocator handed out the same live pointer twice")
		seen[p] = true
		ptrs[i] = p
	}
	for _, p := range ptrs {
		assert.True(t, Deallocate(p))
	}
}

func TestConcurrentAllocateDeallocateIsRaceFree(t *testing.T) {
	const goroutines = 16
	const iterations = 200
	done := make(chan struct{}, goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < iterations; i++ {
				p := Allocate(48)
				if p != nil {
					Deallocate(p)
				}
			}
		}()
	}
	for g := 0; g < goroutines; g++ {
		<-done
	}
}
