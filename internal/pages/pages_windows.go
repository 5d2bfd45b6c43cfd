//go:build windows

package pages

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Region is a page-backed allocation returned by Map.
type Region struct {
	base unsafe.Pointer
	size uintptr
}

func (r Region) Base() unsafe.Pointer { return r.base }
func (r Region) Size() uintptr        { return r.size }

// Map reserves and commits at least n bytes via VirtualAlloc. Windows
// allocation granularity (64KiB) already satisfies any alignment this
// module ever requests (<= page size).
func Map(n uintptr, align uintptr) (Region, error) {
	const pageSize = 4096
	if align > pageSize {
		return Region{}, fmt.Errorf("pages: alignment %d exceeds page size %d", align, pageSize)
	}
	size := roundUp(n, pageSize)
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return Region{}, fmt.Errorf("pages: VirtualAlloc %d bytes: %w", size, err)
	}
	return Region{base: unsafe.Pointer(addr), size: size}, nil
}

// Unmap releases a region obtained from Map.
func Unmap(r Region) error {
	if r.base == nil {
		return nil
	}
	return windows.VirtualFree(uintptr(r.base), 0, windows.MEM_RELEASE)
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
