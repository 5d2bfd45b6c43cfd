// Package deque implements spec.md §4.4's deque: "composition of a
// head LIFO and a tail FIFO" — insertion is supported at both ends
// (PushFront behaves like a Treiber-stack push against the sentinel's
// successor, PushBack is the Michael–Scott tail enqueue), while
// removal happens from the single front end shared by both entry
// points, reusing the Michael–Scott pop/helping protocol.
package deque

import (
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
)

type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value atomic.Pointer[T]
}

// Deque is a lock-free double-ended-insert, single-ended-removal
// container. The zero value is not usable; create one with New.
type Deque[T any] struct {
	head      atomic.Pointer[node[T]]
	tail      atomic.Pointer[node[T]]
	size      atomic.Int64
	allocated atomic.Int64
	free      freeStack[T]
}

// New returns an empty Deque.
func New[T any]() *Deque[T] {
	q := &Deque[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	q.allocated.Add(1)
	return q
}

// PushBack enqueues value at the tail end, following the same
// protocol as queue.Queue.Push.
func (q *Deque[T]) PushBack(d *hazard.Domain, value T) {
	q.pushBack(d, value, true)
}

// PushBackNoAlloc is PushBack's ALLOW_TO_ALLOCATE=false form.
func (q *Deque[T]) PushBackNoAlloc(d *hazard.Domain, value T) bool {
	return q.pushBack(d, value, false)
}

func (q *Deque[T]) pushBack(d *hazard.Domain, value T, allowAllocate bool) bool {
	n := q.newNode(d, value, allowAllocate)
	if n == nil {
		return false
	}

	for {
		tail := q.tail.Load()
		tailOwner := d.Assign(unsafe.Pointer(tail))
		if q.tail.Load() != tail {
			tailOwner.Release()
			continue
		}
		next := tail.next.Load()
		if tail.next.Load() != next || q.tail.Load() != tail {
			tailOwner.Release()
			continue
		}
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				tailOwner.Release()
				q.size.Add(1)
				return true
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}
		tailOwner.Release()
	}
}

// PushFront inserts value immediately after the head sentinel, ahead
// of every value already in the deque. The tail pointer is left to
// catch up lazily through PopFront/PushBack's own helping logic, the
// same mechanism Michael–Scott uses when the deque is momentarily
// empty.
//
// The sentinel this links after is not a fixed anchor: PopFront
// advances q.head to the node it just consumed on every pop, so a
// concurrent PopFront can retire the exact sentinel PushFront is
// linking onto. head.next.CompareAndSwap can succeed against that
// retired node regardless — nothing else writes its next field — so a
// post-CAS check that q.head is still the sentinel we linked onto is
// required; if it moved, the link never became reachable and the push
// must retry against whatever is now the front.
func (q *Deque[T]) PushFront(d *hazard.Domain, value T) {
	q.pushFront(d, value, true)
}

// PushFrontNoAlloc is PushFront's ALLOW_TO_ALLOCATE=false form.
func (q *Deque[T]) PushFrontNoAlloc(d *hazard.Domain, value T) bool {
	return q.pushFront(d, value, false)
}

func (q *Deque[T]) pushFront(d *hazard.Domain, value T, allowAllocate bool) bool {
	n := q.newNode(d, value, allowAllocate)
	if n == nil {
		return false
	}

	for {
		head := q.head.Load()
		headOwner := d.Assign(unsafe.Pointer(head))
		if q.head.Load() != head {
			headOwner.Release()
			continue
		}
		oldNext := head.next.Load()
		n.next.Store(oldNext)
		if head.next.CompareAndSwap(oldNext, n) {
			if q.head.Load() != head {
				// Linked onto a sentinel a concurrent PopFront already
				// retired; n hangs off a node nothing reaches anymore.
				// Not a success — retry against the current front.
				headOwner.Release()
				continue
			}
			headOwner.Release()
			if oldNext == nil {
				q.tail.CompareAndSwap(head, n)
			}
			q.size.Add(1)
			return true
		}
		headOwner.Release()
	}
}

func (q *Deque[T]) newNode(d *hazard.Domain, value T, allowAllocate bool) *node[T] {
	n := q.free.pop(d)
	if n == nil {
		if !allowAllocate {
			return nil
		}
		n = &node[T]{}
		q.allocated.Add(1)
	}
	n.next.Store(nil)
	v := value
	n.value.Store(&v)
	return n
}

// PopFront removes and returns the value at the front, or reports
// false if the deque is empty.
func (q *Deque[T]) PopFront(d *hazard.Domain) (T, bool) {
	for {
		head := q.head.Load()
		headOwner := d.Assign(unsafe.Pointer(head))
		if q.head.Load() != head {
			headOwner.Release()
			continue
		}
		tail := q.tail.Load()
		next := head.next.Load()
		if next == nil {
			headOwner.Release()
			var zero T
			return zero, false
		}
		nextOwner := d.Assign(unsafe.Pointer(next))
		if head.next.Load() != next {
			nextOwner.Release()
			headOwner.Release()
			continue
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			nextOwner.Release()
			headOwner.Release()
			continue
		}
		if q.head.CompareAndSwap(head, next) {
			val := next.value.Swap(nil)
			nextOwner.Release()
			headOwner.Release()
			q.size.Add(-1)
			d.Retire(unsafe.Pointer(head), func(p unsafe.Pointer) {
				q.free.push((*node[T])(p))
			})
			if val == nil {
				var zero T
				return zero, false
			}
			return *val, true
		}
		nextOwner.Release()
		headOwner.Release()
	}
}

// Size returns the number of elements currently held.
func (q *Deque[T]) Size() int64 {
	return q.size.Load()
}

// GetAllocatedNum returns the total number of nodes ever allocated by
// this deque, including ones currently sitting in the free-node cache.
func (q *Deque[T]) GetAllocatedNum() int64 {
	return q.allocated.Load()
}

// freeStack is a lock-free Treiber stack of recycled nodes, linked
// through the node's own next field while it sits off the live list.
//
// pop hazard-protects the candidate node across its read-next/CAS
// window using the same global hazard registry Retire checks before
// reclaiming a node — exactly the protection the C++ original's
// fifo_free_nd_list dedicates five slots to (free_node_storage.hpp).
// Without it, a node popped here, pushed onto the live deque, popped
// back off, and retired onto this free stack again between this call's
// Load and CompareAndSwap would let the CAS succeed against a stale
// .next, silently dropping whatever was pushed in between.
type freeStack[T any] struct {
	top atomic.Pointer[node[T]]
}

func (s *freeStack[T]) push(n *node[T]) {
	for {
		old := s.top.Load()
		n.next.Store(old)
		if s.top.CompareAndSwap(old, n) {
			return
		}
	}
}

func (s *freeStack[T]) pop(d *hazard.Domain) *node[T] {
	old := s.top.Load()
	if old == nil {
		return nil
	}
	owner := d.Assign(unsafe.Pointer(old))
	defer owner.Release()
	if s.top.Load() != old {
		return nil
	}
	next := old.next.Load()
	if s.top.CompareAndSwap(old, next) {
		return old
	}
	return nil
}
