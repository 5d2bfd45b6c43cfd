package sharedptr

import (
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
)

// SharedPtr is nts_shared_ptr<T>: a non-atomic, single-owner-at-a-time
// handle to a reference-counted value. It is safe to copy via Clone and
// must be released via Drop exactly once per Clone/New/successful Load.
type SharedPtr[T any] struct {
	cb *controlBlock[T]
}

// New wraps value in a fresh control block with strong/weak counts of
// 1. deleter is invoked on the strong count's final release; it may be
// nil for values that need no cleanup beyond Go's own GC.
func New[T any](value *T, deleter func(*T)) SharedPtr[T] {
	return SharedPtr[T]{cb: newControlBlock(value, deleter)}
}

// Get returns the managed value, or nil for an empty SharedPtr.
func (sp SharedPtr[T]) Get() *T {
	if sp.cb == nil {
		return nil
	}
	return sp.cb.value
}

// Empty reports whether sp manages no value.
func (sp SharedPtr[T]) Empty() bool {
	return sp.cb == nil
}

// Clone takes out an additional strong reference to the same control
// block. The original sp remains valid; both copies must eventually be
// Drop'd.
func (sp SharedPtr[T]) Clone() SharedPtr[T] {
	if sp.cb == nil {
		return SharedPtr[T]{}
	}
	sp.cb.strong.IncrementIfNotZero() // sp itself already holds a live reference, so this cannot fail
	return SharedPtr[T]{cb: sp.cb}
}

// Weaken derives a WeakPtr observing the same control block.
func (sp SharedPtr[T]) Weaken() WeakPtr[T] {
	if sp.cb == nil {
		return WeakPtr[T]{}
	}
	sp.cb.weak.IncrementIfNotZero()
	return WeakPtr[T]{cb: sp.cb}
}

// Drop releases sp's strong reference, running the deleter and
// retiring the control block through d once every reference is gone.
// Every SharedPtr obtained from New, Clone, a successful Load, or
// WeakPtr.Lock must be Drop'd exactly once.
func (sp SharedPtr[T]) Drop(d *hazard.Domain) {
	if sp.cb != nil {
		dropStrong(d, sp.cb)
	}
}

// WeakPtr is nts_weak_ptr<T>: observes a control block without keeping
// its value alive.
type WeakPtr[T any] struct {
	cb *controlBlock[T]
}

// Lock attempts to promote the weak reference to a strong one,
// spec.md's lf_weak_ptr::lock.
func (wp WeakPtr[T]) Lock() (SharedPtr[T], bool) {
	if wp.cb == nil {
		return SharedPtr[T]{}, false
	}
	if !wp.cb.strong.IncrementIfNotZero() {
		return SharedPtr[T]{}, false
	}
	return SharedPtr[T]{cb: wp.cb}, true
}

// Expired reports whether the managed value has already been released.
func (wp WeakPtr[T]) Expired() bool {
	return wp.cb == nil || wp.cb.strong.IsZero()
}

// Reset releases wp's weak reference.
func (wp WeakPtr[T]) Reset(d *hazard.Domain) {
	if wp.cb != nil {
		dropWeak(d, wp.cb)
	}
}

// Atomic is lf_shared_ptr<T>: an atomic, hazard-pointer-protected slot
// holding a SharedPtr's control-block pointer. Every operation takes
// the caller's hazard.Domain explicitly (see the hazard package's
// doc comment for why Go substitutes an explicit Domain for the
// original's thread-local hazard list).
type Atomic[T any] struct {
	ptr atomic.Pointer[controlBlock[T]]
}

// Load implements spec.md §4.3's load protocol: hazard-protect the
// current control-block pointer, re-validate it is still current, then
// try to take out a strong reference before returning it.
func (a *Atomic[T]) Load(d *hazard.Domain) (SharedPtr[T], bool) {
	for {
		raw := a.ptr.Load()
		if raw == nil {
			return SharedPtr[T]{}, false
		}
		owner := d.Assign(unsafe.Pointer(raw))
		if a.ptr.Load() != raw {
			owner.Release()
			continue // the slot changed underneath us; retry the whole protocol
		}
		ok := raw.strong.IncrementIfNotZero()
		owner.Release()
		if !ok {
			return SharedPtr[T]{}, false
		}
		return SharedPtr[T]{cb: raw}, true
	}
}

// Store replaces the managed pointer with sp's, consuming sp's
// reference and dropping whatever was previously stored.
func (a *Atomic[T]) Store(d *hazard.Domain, sp SharedPtr[T]) {
	old := a.ptr.Swap(sp.cb)
	releaseIfAny(d, old)
}

// Exchange replaces the managed pointer with sp's and hands the
// previous value back to the caller as an owned SharedPtr.
func (a *Atomic[T]) Exchange(d *hazard.Domain, sp SharedPtr[T]) SharedPtr[T] {
	old := a.ptr.Swap(sp.cb)
	return SharedPtr[T]{cb: old}
}

// CompareAndSwapStrong implements spec.md §4.3's compare_exchange_strong:
// on success, desired's reference is transferred into the slot and the
// slot's former reference to expected's control block is dropped. On
// failure, the reference *expected held is released and *expected is
// refreshed to a freshly-loaded, owned snapshot so the caller's retry
// loop observes the current value.
func (a *Atomic[T]) CompareAndSwapStrong(d *hazard.Domain, expected *SharedPtr[T], desired SharedPtr[T]) bool {
	if a.ptr.CompareAndSwap(expected.cb, desired.cb) {
		releaseIfAny(d, expected.cb)
		return true
	}
	reloaded, _ := a.Load(d)
	releaseIfAny(d, expected.cb)
	*expected = reloaded
	return false
}

// CompareAndSwapWeak is identical to CompareAndSwapStrong: Go's
// atomic.Pointer.CompareAndSwap never fails spuriously, so the
// weak/strong distinction spec.md draws from the C++ standard (where
// compare_exchange_weak may fail even when the values match) collapses
// to one implementation here.
func (a *Atomic[T]) CompareAndSwapWeak(d *hazard.Domain, expected *SharedPtr[T], desired SharedPtr[T]) bool {
	return a.CompareAndSwapStrong(d, expected, desired)
}

func releaseIfAny[T any](d *hazard.Domain, cb *controlBlock[T]) {
	if cb != nil {
		dropStrong(d, cb)
	}
}
