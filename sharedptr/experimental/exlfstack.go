// Package experimental mirrors the C++ original's experiment/
// directory: lower-confidence companions to the audited sharedptr
// package, kept separate and opt-in. ExLFStack builds a Treiber stack
// whose nodes are held by sharedptr.Atomic rather than plain pointers,
// trading the hazard-retire path for reference counting on every pop.
// spec.md's own open questions flag the C++ original's ex_lf_stack as
// ABA-suspect; this port keeps that caveat.
package experimental

import (
	"github.com/kestrelcode/lockfree/hazard"
	"github.com/kestrelcode/lockfree/sharedptr"
)

type exNode[T any] struct {
	value T
	next  sharedptr.Atomic[exNode[T]]
}

// ExLFStack is an experimental lock-free LIFO built on lf_shared_ptr
// nodes. Unlike stack.Stack, reclamation here rides entirely on
// sharedptr's strong/weak counters rather than an explicit free-node
// cache, so ABA safety depends on the sticky counter's helped-flag
// protocol behaving exactly as spec.md §4.3 describes under the
// push-same-node-twice pattern called out in spec.md's open questions.
// Treat this type as a reference port, not a production data
// structure — prefer stack.Stack.
type ExLFStack[T any] struct {
	top sharedptr.Atomic[exNode[T]]
}

// New returns an empty ExLFStack.
func New[T any]() *ExLFStack[T] {
	return &ExLFStack[T]{}
}

// Push places value on top of the stack.
//
// On a lost CAS race the freshly-built node is discarded. Its next
// field still points at the old top, but the strong reference acquired
// via Load was the one in expected, and CompareAndSwapStrong releases it
// on failure, so the counts stay balanced; the abandoned node is left
// to the GC. See DESIGN.md.
func (s *ExLFStack[T]) Push(d *hazard.Domain, value T) {
	for {
		old, hasOld := s.top.Load(d)
		n := &exNode[T]{value: value}
		if hasOld {
			n.next.Store(d, old)
		}
		sp := sharedptr.New(n, nil)
		expected := old
		if s.top.CompareAndSwapStrong(d, &expected, sp) {
			return
		}
		expected.Drop(d) // CompareAndSwapStrong reloaded expected to the current value; we don't need it
	}
}

// Pop removes and returns the top value, or reports false if the
// stack is empty.
func (s *ExLFStack[T]) Pop(d *hazard.Domain) (T, bool) {
	for {
		top, ok := s.top.Load(d)
		if !ok {
			var zero T
			return zero, false
		}
		next, hasNext := top.Get().next.Load(d)
		expected := top
		var desired sharedptr.SharedPtr[exNode[T]]
		if hasNext {
			desired = next
		}
		if s.top.CompareAndSwapStrong(d, &expected, desired) {
			value := top.Get().value
			top.Drop(d)
			return value, true
		}
		expected.Drop(d) // CompareAndSwapStrong reloaded expected to the current value; we don't need it
		// top's own reference was the one in expected, already released by
		// the failed CompareAndSwapStrong.
		if hasNext {
			next.Drop(d)
		}
	}
}
