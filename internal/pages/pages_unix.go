//go:build linux || darwin

package pages

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a page-backed allocation returned by Map.
type Region struct {
	base unsafe.Pointer
	size uintptr
}

// Base returns the region's starting address.
func (r Region) Base() unsafe.Pointer { return r.base }

// Size returns the region's byte length (a whole number of pages).
func (r Region) Size() uintptr { return r.size }

// Map reserves at least n bytes of anonymous, zero-filled memory.
// align must be a power of two no larger than the system page size;
// mmap already returns page-aligned memory, so any such alignment is
// satisfied for free.
func Map(n uintptr, align uintptr) (Region, error) {
	pageSize := uintptr(unix.Getpagesize())
	if align > pageSize {
		return Region{}, fmt.Errorf("pages: alignment %d exceeds page size %d", align, pageSize)
	}
	size := roundUp(n, pageSize)
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Region{}, fmt.Errorf("pages: mmap %d bytes: %w", size, err)
	}
	return Region{base: unsafe.Pointer(&b[0]), size: size}, nil
}

// Unmap releases a region obtained from Map.
func Unmap(r Region) error {
	if r.base == nil {
		return nil
	}
	b := unsafe.Slice((*byte)(r.base), r.size)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("pages: munmap: %w", err)
	}
	return nil
}

func roundUp(n, multiple uintptr) uintptr {
	if multiple == 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}
