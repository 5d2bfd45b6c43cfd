package lfalloc

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/internal/pages"
	"github.com/kestrelcode/lockfree/logging"
)

// group is spec.md's memory-slot group: a chunk of mmap'd pages carved
// into N identical slots of one size class, handed out via a bump
// pointer until full.
type group struct {
	region         pages.Region
	class          *sizeClass
	slotBytes      int
	slotCount      int
	nextUnassigned atomic.Int64
	nextGroup      *group // stack link in the class's group list; set once, read-only after publish
}

// sizeClass is one of the 128 entries in memorySlotGroupList, spec.md
// §3.3.
type sizeClass struct {
	index               int
	allocatableBytes    int
	limitBytesPerGroup  int64
	nextAllocatingBytes atomic.Int64
	groupsHead          atomic.Pointer[group]
	cursor              atomic.Pointer[group]
	retrieved           retrievedSlotsManager
	groupCount          atomic.Int64
}

func newSizeClass(index, allocatable int) *sizeClass {
	c := &sizeClass{index: index, allocatableBytes: allocatable}
	c.nextAllocatingBytes.Store(initialGroupBytes)
	c.limitBytesPerGroup = limitBytesForClass(allocatable)
	return c
}

// initialGroupBytes is the first group size requested for any class;
// nextAllocatingBytes doubles from here up to limitBytesPerGroup.
const initialGroupBytes = 64 * 1024

// limitBytesForClass caps a single group's size well above its slot
// size so even the largest class still gets multiple slots per group.
func limitBytesForClass(allocatable int) int64 {
	limit := int64(allocatable) * 256
	if limit < initialGroupBytes {
		limit = initialGroupBytes
	}
	const hardCap = 16 << 20 // 16 MiB per group, regardless of class
	if limit > hardCap {
		limit = hardCap
	}
	return limit
}

// allocate implements spec.md §4.2's small-slot allocate algorithm.
// align is honored when carving a fresh slot; a slot popped off the
// retrieved-slots cache is only reused if its existing user pointer
// already satisfies align, since its header was fixed in place when
// some earlier request carved it.
func (c *sizeClass) allocate(align uintptr) unsafe.Pointer {
	if h := c.retrieved.request(); h != nil {
		if uintptr(h.userPtr)%align == 0 && h.isUsed.CompareAndSwap(false, true) {
			return h.userPtr
		}
		if !h.isUsed.Load() {
			// Alignment doesn't fit this reuse request; hand it back for
			// someone else and fall through to fresh carving.
			c.retrieved.retire(h)
		}
	}

	for lap := 0; lap < 2; lap++ {
		g := c.cursor.Load()
		if g == nil {
			break
		}
		start := g
		for {
			idx := g.nextUnassigned.Add(1) - 1
			if idx < int64(g.slotCount) {
				slotBase := unsafe.Add(g.region.Base(), int(idx)*g.slotBytes)
				_, userPtr := emplaceHeader(slotBase, unsafe.Pointer(g), tagSmall, align, uintptr(c.allocatableBytes))
				return userPtr
			}
			// g is full; advance the cursor to the next group, wrapping to head.
			next := g.nextGroup
			if next == nil {
				next = c.groupsHead.Load()
			}
			c.cursor.CompareAndSwap(g, next)
			g = next
			if g == start || g == nil {
				break
			}
		}
	}

	g := c.requestNewGroup()
	if g == nil {
		return nil
	}
	idx := g.nextUnassigned.Add(1) - 1
	if idx >= int64(g.slotCount) {
		return nil
	}
	slotBase := unsafe.Add(g.region.Base(), int(idx)*g.slotBytes)
	_, userPtr := emplaceHeader(slotBase, unsafe.Pointer(g), tagSmall, align, uintptr(c.allocatableBytes))
	return userPtr
}

// requestNewGroup mmaps a fresh group sized at the class's current
// geometric buffer size, doubles that size (capped), pushes the group
// onto the head of the class's group stack, and installs it as the
// cursor if none was set.
func (c *sizeClass) requestNewGroup() *group {
	bufBytes := c.nextAllocatingBytes.Load()

	slotStride := int(headerSize + offsetTagSize + uintptr(c.allocatableBytes))
	slotStride = roundUpWord(slotStride)
	slotCount := int(bufBytes) / slotStride
	if slotCount < 1 {
		slotCount = 1
	}

	region, err := pages.Map(uintptr(slotCount*slotStride), wordSize)
	if err != nil {
		logging.Log(logging.LevelError, "lfalloc", "mmap", int64(c.index), err,
			"failed to map a new slot group for class %d (%d bytes/slot)", c.index, c.allocatableBytes)
		return nil
	}

	g := &group{region: region, class: c, slotBytes: slotStride, slotCount: slotCount}

	for {
		next := bufBytes * 2
		if next > c.limitBytesPerGroup {
			next = c.limitBytesPerGroup
		}
		if c.nextAllocatingBytes.CompareAndSwap(bufBytes, next) || c.nextAllocatingBytes.Load() >= next {
			break
		}
		bufBytes = c.nextAllocatingBytes.Load()
	}

	for {
		head := c.groupsHead.Load()
		g.nextGroup = head
		if c.groupsHead.CompareAndSwap(head, g) {
			break
		}
	}
	c.groupCount.Add(1)
	c.cursor.CompareAndSwap(nil, g)
	return g
}

// deallocate implements spec.md §4.2's small-slot deallocate: CAS
// isUsed true->false, reporting a double-free if it was already false,
// otherwise filing the slot for reuse.
func (c *sizeClass) deallocate(h *header) bool {
	if !h.isUsed.CompareAndSwap(true, false) {
		logging.Log(logging.LevelError, "lfalloc", "double-free", int64(c.index), nil,
			"double-free detected on class %d slot %p", c.index, h.userPtr)
		return false
	}
	c.retrieved.retire(h)
	return true
}

func (c *sizeClass) String() string {
	return fmt.Sprintf("class[%d] bytes=%d groups=%d", c.index, c.allocatableBytes, c.groupCount.Load())
}
