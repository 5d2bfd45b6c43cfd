// Package lfalloc is the lock-free memory allocator (LFMA) of spec.md
// §4.2: a two-tier slab/big-block allocator whose hot path is a
// lock-free free-list pop. It is exposed both as the
// Allocate/Deallocate facility containers in this module build on, and
// directly as a general-purpose off-heap allocator.
package lfalloc

import (
	"fmt"
	"unsafe"

	"github.com/davecgh/go-spew/spew"
	"github.com/kestrelcode/lockfree/config"
	"github.com/kestrelcode/lockfree/logging"
)

var (
	classTable = buildSizeClassTable()
	classes    [numSizeClasses]*sizeClass
	bigSlots   bigSlotList
)

func init() {
	for i, bytes := range classTable {
		classes[i] = newSizeClass(i, bytes)
	}
}

// Allocate returns at least n bytes, word-aligned, or nil on OOM.
// n == 0 still returns a unique, usable 1-byte region (spec.md §8).
func Allocate(n int) unsafe.Pointer {
	p, _ := AllocateAligned(n, int(wordSize)) // word alignment is always valid; the only possible error is ErrOOM
	return p
}

// AllocateAligned returns at least n bytes aligned to align, which
// must be a power of two; a non-power-of-two align is a programmer
// error and panics at the API boundary, matching spec.md §6.1's
// "throws/terminates otherwise" and SPEC_FULL.md's error-handling
// mapping. Returns (nil, ErrOOM) if the allocator cannot satisfy the
// request.
func AllocateAligned(n int, align int) (unsafe.Pointer, error) {
	if align <= 0 || !isPowerOfTwo(uintptr(align)) {
		panic(ErrNotPowerOfTwo)
	}
	if n < 1 {
		n = 1
	}

	if config.Get().SanitizerFriendly {
		return sanitizerFriendlyAllocate(n, align), nil
	}

	needed := n + 1 + maxInt(0, align-int(wordSize))

	idx, ok := classIndexFor(classTable, needed)
	for ok {
		if p := classes[idx].allocate(uintptr(align)); p != nil {
			return p, nil
		}
		idx++
		ok = idx < numSizeClasses
	}

	if h := bigSlots.reuse(uintptr(needed), uintptr(align)); h != nil {
		return h.userPtr, nil
	}
	p := bigSlots.allocateNewly(uintptr(needed), uintptr(align))
	if p == nil {
		logging.Log(logging.LevelWarn, "lfalloc", "oom", 0, ErrOOM, "allocate(%d, align=%d) failed", n, align)
		return nil, ErrOOM
	}
	return p, nil
}

// Deallocate returns p to the allocator. It reports false (and logs)
// for a nil, invalid, or already-freed pointer rather than failing
// silently; callers that need a hard failure should set
// config.Config.LogicErrorTerminate, which turns detected corruption
// into a panic.
func Deallocate(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}

	if config.Get().SanitizerFriendly {
		return sanitizerFriendlyDeallocate(p)
	}

	h := headerOf(p)
	if h == nil {
		logging.Log(logging.LevelError, "lfalloc", "invalid-pointer", 0, ErrInvalidPointer, "deallocate(%p): not an allocation from this package", p)
		return false
	}

	var ok bool
	switch h.tagWord {
	case tagSmall:
		g := (*group)(h.owner)
		ok = g.class.deallocate(h)
	case tagBig, tagOverBig:
		ok = bigSlots.deallocate(h)
	default:
		ok = false
	}

	if !ok && config.Get().LogicErrorTerminate {
		panic(fmt.Sprintf("lfalloc: logic error on deallocate(%p): %v", p, ErrDoubleFree))
	}
	return ok
}

// MaxAllocatableSize returns the number of usable bytes available from
// p onward — spec.md's get_max_allocatable_size.
func MaxAllocatableSize(p unsafe.Pointer) uintptr {
	h := headerOf(p)
	if h == nil {
		return 0
	}
	return h.usable
}

// DumpStatus writes a diagnostic snapshot of every size class and the
// big-slot cache to the package logger at the given severity — spec.md
// §6.1's gmem_dump_status.
func DumpStatus(level logging.Level, tag string, id int64) {
	if !logging.Get().IsEnabled(level) {
		return
	}
	var b struct {
		Classes   []string
		BigCached int
		BigBytes  int64
	}
	for _, c := range classes {
		if c.groupCount.Load() > 0 {
			b.Classes = append(b.Classes, c.String())
		}
	}
	bigSlots.mu.Lock()
	b.BigCached = len(bigSlots.cached)
	b.BigBytes = bigSlots.cachedSize
	bigSlots.mu.Unlock()

	logging.Log(level, "lfalloc", tag, id, nil, "status:\n%s", spew.Sdump(b))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
