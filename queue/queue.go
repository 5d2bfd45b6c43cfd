// Package queue implements the Michael–Scott lock-free FIFO of
// spec.md §4.4: a singly-linked list with a permanent head sentinel,
// hazard-pointer-protected head/tail traversal, and cooperative tail
// helping.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
)

type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value atomic.Pointer[T]
}

// Queue is a Michael–Scott FIFO. The zero value is not usable; create
// one with New.
type Queue[T any] struct {
	head      atomic.Pointer[node[T]]
	tail      atomic.Pointer[node[T]]
	size      atomic.Int64
	allocated atomic.Int64
	free      freeStack[T]
}

// New returns an empty Queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	q.allocated.Add(1)
	return q
}

// Push enqueues value, allocating a fresh node if the free-node cache
// (populated by reclaimed Pop nodes) is empty.
func (q *Queue[T]) Push(d *hazard.Domain, value T) {
	q.push(d, value, true)
}

// PushNoAlloc enqueues value only if a previously-retired node is
// available for reuse, returning false otherwise — spec.md's
// ALLOW_TO_ALLOCATE=false push form.
func (q *Queue[T]) PushNoAlloc(d *hazard.Domain, value T) bool {
	return q.push(d, value, false)
}

func (q *Queue[T]) push(d *hazard.Domain, value T, allowAllocate bool) bool {
	n := q.free.pop(d)
	if n == nil {
		if !allowAllocate {
			return false
		}
		n = &node[T]{}
		q.allocated.Add(1)
	}
	n.next.Store(nil)
	v := value
	n.value.Store(&v)

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

// Pop dequeues the oldest value, or reports false if the queue is
// empty.
func (q *Queue[T]) Pop(d *hazard.Domain) (T, bool) {
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
			// Tail lags behind; help swing it forward and retry.
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

// Size returns the number of elements currently enqueued.
func (q *Queue[T]) Size() int64 {
	return q.size.Load()
}

// GetAllocatedNum returns the total number of nodes ever allocated by
// this queue, including ones currently sitting in the free-node cache.
func (q *Queue[T]) GetAllocatedNum() int64 {
	return q.allocated.Load()
}

// freeStack is a lock-free Treiber stack of recycled nodes, linked
// through the node's own next field while it sits off the live list.
//
// pop hazard-protects the candidate node across its read-next/CAS
// window using the same global hazard registry Retire checks before
// reclaiming a node — exactly the protection the C++ original's
// fifo_free_nd_list dedicates five slots to (free_node_storage.hpp).
// Without it, a node popped here, pushed onto the live container,
// popped back off, and retired onto this free stack again between this
// call's Load and CompareAndSwap would let the CAS succeed against a
// stale .next, silently dropping whatever was pushed in between.
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
