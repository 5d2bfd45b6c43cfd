package lfalloc

import (
	"sync"
	"unsafe"
)

// sanitizerFriendlyTag marks a region allocated through Go's own heap
// instead of the mmap'd slab/big-slot machinery, so tools like the
// race detector and ASan-style instrumentation (which this package's
// raw unsafe.Pointer arithmetic and manual header tagging are opaque
// to) can still see individual allocations. config.Config.SanitizerFriendly
// trades the usual lock-free fast path for this, matching spec.md
// §6.4's note that diagnostics-mode builds may sacrifice performance.
type sanitizerFriendlyTag struct {
	bytes []byte
}

func sanitizerFriendlyAllocate(n int, align int) unsafe.Pointer {
	box := &sanitizerFriendlyTag{bytes: make([]byte, n+align)}
	addr := roundUpPtr(uintptr(unsafe.Pointer(&box.bytes[0])), uintptr(align))
	sanitizerFriendlyRegistry.put(addr, box)
	return unsafe.Pointer(addr)
}

func sanitizerFriendlyDeallocate(p unsafe.Pointer) bool {
	return sanitizerFriendlyRegistry.delete(uintptr(p))
}

var sanitizerFriendlyRegistry = newPinRegistry()

// pinRegistry keeps Go-GC-visible allocations alive (and deallocation
// idempotent) while sanitizer-friendly mode bypasses the header-tag
// scheme entirely, since p in that mode does not point at a lfalloc
// header.
type pinRegistry struct {
	mu   sync.Mutex
	live map[uintptr]*sanitizerFriendlyTag
}

func newPinRegistry() *pinRegistry {
	return &pinRegistry{live: make(map[uintptr]*sanitizerFriendlyTag)}
}

func (r *pinRegistry) put(addr uintptr, box *sanitizerFriendlyTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[addr] = box
}

func (r *pinRegistry) delete(addr uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[addr]
	delete(r.live, addr)
	return ok
}
