package lfalloc

import (
	"sync"
	"unsafe"

	"github.com/kestrelcode/lockfree/config"
	"github.com/kestrelcode/lockfree/internal/pages"
	"github.com/kestrelcode/lockfree/logging"
)

// bigSlotList is spec.md §3.3/§4.2's big-slot list: a standalone
// page-aligned region per allocation, reached once a request exceeds
// the largest size class. Reuse is a mutex-guarded cache rather than a
// lock-free stack, since big allocations are rare enough that the
// extra contention this implies is not on any documented hot path.
type bigSlotList struct {
	mu         sync.Mutex
	cached     []*header
	cachedSize int64
}

// allocateNewly maps a fresh big slot of at least `needed` usable
// bytes, tagged BIG if it fits under the configured cache threshold or
// OVER_BIG otherwise (OVER_BIG slots are never cached; they are
// munmap'd immediately on Deallocate).
func (l *bigSlotList) allocateNewly(needed uintptr, align uintptr) unsafe.Pointer {
	total := roundUpPtr(headerSize+offsetTagSize, wordSize) + needed
	region, err := pages.Map(total, align)
	if err != nil {
		logging.Log(logging.LevelError, "lfalloc", "mmap-big", 0, err, "failed to map a %d-byte big slot", total)
		return nil
	}

	tg := tagBig
	if int64(region.Size()) > config.Get().BigSlotCacheLimitBytes {
		tg = tagOverBig
	}
	pinned := region // heap-escapes via the unsafe.Pointer below, outliving this call
	h, userPtr := emplaceHeader(region.Base(), unsafe.Pointer(&pinned), tg, align, needed)
	_ = h
	return userPtr
}

// deallocate routes by tag: OVER_BIG slots are unmapped immediately;
// BIG slots join the cache if it stays under the configured limit,
// else they too are unmapped.
func (l *bigSlotList) deallocate(h *header) bool {
	if !h.isUsed.CompareAndSwap(true, false) {
		logging.Log(logging.LevelError, "lfalloc", "double-free", 0, nil,
			"double-free detected on big slot %p", h.userPtr)
		return false
	}
	region := *(*pages.Region)(h.owner)

	if h.tagWord == tagOverBig {
		if err := pages.Unmap(region); err != nil {
			logging.Log(logging.LevelError, "lfalloc", "munmap", 0, err, "failed to unmap over-big slot")
		}
		return true
	}

	limit := config.Get().BigSlotCacheLimitBytes
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cachedSize+int64(region.Size()) > limit {
		l.mu.Unlock()
		err := pages.Unmap(region)
		l.mu.Lock()
		if err != nil {
			logging.Log(logging.LevelError, "lfalloc", "munmap", 0, err, "failed to unmap evicted big slot")
		}
		return true
	}
	h.isUsed.Store(false)
	l.cached = append(l.cached, h)
	l.cachedSize += int64(region.Size())
	return true
}

// reuse pops the first cached slot with enough usable bytes whose
// fixed user pointer still satisfies align, or nil.
func (l *bigSlotList) reuse(needed uintptr, align uintptr) *header {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.cached {
		if h.usable >= needed && uintptr(h.userPtr)%align == 0 {
			l.cached = append(l.cached[:i], l.cached[i+1:]...)
			region := *(*pages.Region)(h.owner)
			l.cachedSize -= int64(region.Size())
			h.isUsed.Store(true)
			return h
		}
	}
	return nil
}
