// Package stack implements the lock-free LIFO of spec.md §4.4: a
// Treiber stack with hazard-pointer-protected pop.
package stack

import (
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
)

type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value atomic.Pointer[T]
}

// Stack is a lock-free LIFO. The zero value is ready to use.
type Stack[T any] struct {
	head      atomic.Pointer[node[T]]
	size      atomic.Int64
	allocated atomic.Int64
	free      freeStack[T]
}

// New returns an empty Stack.
func New[T any]() *Stack[T] {
	return &Stack[T]{}
}

// Push places value on top of the stack, allocating a fresh node if
// the free-node cache is empty.
func (s *Stack[T]) Push(d *hazard.Domain, value T) {
	s.push(d, value, true)
}

// PushNoAlloc places value on top of the stack only if a previously
// retired node is available for reuse, returning false otherwise —
// spec.md's ALLOW_TO_ALLOCATE=false push form.
func (s *Stack[T]) PushNoAlloc(d *hazard.Domain, value T) bool {
	return s.push(d, value, false)
}

func (s *Stack[T]) push(d *hazard.Domain, value T, allowAllocate bool) bool {
	n := s.free.pop(d)
	if n == nil {
		if !allowAllocate {
			return false
		}
		n = &node[T]{}
		s.allocated.Add(1)
	}
	v := value
	n.value.Store(&v)

	for {
		old := s.head.Load()
		n.next.Store(old)
		if s.head.CompareAndSwap(old, n) {
			s.size.Add(1)
			return true
		}
	}
}

// Pop removes and returns the top value, or reports false if the
// stack is empty.
func (s *Stack[T]) Pop(d *hazard.Domain) (T, bool) {
	for {
		head := s.head.Load()
		if head == nil {
			var zero T
			return zero, false
		}
		headOwner := d.Assign(unsafe.Pointer(head))
		if s.head.Load() != head {
			headOwner.Release()
			continue
		}
		next := head.next.Load()
		if s.head.CompareAndSwap(head, next) {
			val := head.value.Swap(nil)
			headOwner.Release()
			s.size.Add(-1)
			d.Retire(unsafe.Pointer(head), func(p unsafe.Pointer) {
				s.free.push((*node[T])(p))
			})
			if val == nil {
				var zero T
				return zero, false
			}
			return *val, true
		}
		headOwner.Release()
	}
}

// Size returns the number of elements currently on the stack.
func (s *Stack[T]) Size() int64 {
	return s.size.Load()
}

// GetAllocatedNum returns the total number of nodes ever allocated by
// this stack, including ones currently sitting in the free-node cache.
func (s *Stack[T]) GetAllocatedNum() int64 {
	return s.allocated.Load()
}

// freeStack is a lock-free Treiber stack of recycled nodes, linked
// through the node's own next field while it sits off the live stack.
//
// pop hazard-protects the candidate node across its read-next/CAS
// window using the same global hazard registry Retire checks before
// reclaiming a node — exactly the protection the C++ original's
// fifo_free_nd_list dedicates five slots to (free_node_storage.hpp).
// Without it, a node popped here, pushed onto the live stack, popped
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
