package sharedptr

import (
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
	"github.com/kestrelcode/lockfree/logging"
)

// controlBlock is control_block<T, Deleter>: the strong/weak sticky
// counters and the value's destroyer, shared between every SharedPtr
// copy. The block owns one implicit weak reference to itself for as
// long as the strong count is alive, the same trick std::shared_ptr
// uses to let the control block outlive the resource it manages.
type controlBlock[T any] struct {
	strong  *StickyCounter
	weak    *StickyCounter
	value   *T
	deleter func(*T)
}

func newControlBlock[T any](value *T, deleter func(*T)) *controlBlock[T] {
	return &controlBlock[T]{
		strong:  newStickyCounter(1),
		weak:    newStickyCounter(1),
		value:   value,
		deleter: deleter,
	}
}

func cbPointer[T any](cb *controlBlock[T]) unsafe.Pointer {
	return unsafe.Pointer(cb)
}

// dropStrong releases one strong reference. When the strong count
// reaches zero it runs the deleter and gives up the control block's
// self-held weak reference; dropWeak then decides whether the control
// block itself is retireable.
func dropStrong[T any](d *hazard.Domain, cb *controlBlock[T]) {
	if cb.strong.DecrementThenIsZero() {
		if cb.deleter != nil {
			cb.deleter(cb.value)
		}
		dropWeak(d, cb)
	}
}

// dropWeak releases one weak reference, retiring the control block
// through the hazard registry once both counters have reached zero so
// a concurrent Load that hazard-protected the block before this point
// finishes its IncrementIfNotZero attempt first.
func dropWeak[T any](d *hazard.Domain, cb *controlBlock[T]) {
	if cb.weak.DecrementThenIsZero() {
		d.Retire(cbPointer(cb), func(unsafe.Pointer) {
			logging.Log(logging.LevelDebug, "sharedptr", "control-block-retired", 0, nil, "control block reclaimed")
		})
	}
}
