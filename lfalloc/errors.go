package lfalloc

import "errors"

// Sentinel errors attached to the log entries lfalloc writes; of these,
// AllocateAligned returns ErrOOM and panics with ErrNotPowerOfTwo.
// Allocate/Deallocate themselves stay to the nil/false contract
// spec.md §7 describes, since that is the calling convention every
// container package in this module is written against.
var (
	ErrDoubleFree     = errors.New("lfalloc: double-free detected")
	ErrInvalidPointer = errors.New("lfalloc: pointer is not an allocation from this package")
	ErrCorruption     = errors.New("lfalloc: allocation header failed its magic-number check")
	ErrNotPowerOfTwo  = errors.New("lfalloc: alignment must be a power of two")
	ErrOOM            = errors.New("lfalloc: out of memory")
)
