// Package list implements the Harris–Michael lock-free ordered forward
// list of spec.md §4.4: search returns the (prev, curr) pair bracketing
// a key, insertion is a single CAS, and deletion is the two-step
// logical-mark-then-physical-unlink protocol.
//
// The C++ original steals the low bit of the next pointer to carry the
// mark, a single word the deletion CAS can flip atomically. Go's GC
// requires pointer fields to hold real addresses, so this package
// carries the mark in a sibling atomic.Bool instead: a deleter sets
// marked before touching next, and every reader treats a marked node
// as logically absent and helps physically unlink it. Hazard
// protection held across a compare-and-swap is what keeps this safe
// from address-reuse ABA, not the bit packing itself — see DESIGN.md.
package list

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/kestrelcode/lockfree/hazard"
)

type node[K constraints.Ordered, V any] struct {
	key    K
	value  atomic.Pointer[V]
	next   atomic.Pointer[node[K, V]]
	marked atomic.Bool
}

// List is a lock-free ordered set keyed by K, with an associated value
// V. The zero value is not usable; create one with New.
type List[K constraints.Ordered, V any] struct {
	head      *node[K, V]
	size      atomic.Int64
	allocated atomic.Int64
	free      freeStack[K, V]
}

// New returns an empty List.
func New[K constraints.Ordered, V any]() *List[K, V] {
	return &List[K, V]{head: &node[K, V]{}}
}

// window is a (prev, curr) search result with both nodes' hazard
// protection still held; the caller must Release both once its CAS
// has gone through (success or failure).
type window[K constraints.Ordered, V any] struct {
	prev      *node[K, V]
	prevOwner hazard.Owner
	curr      *node[K, V]
	currOwner hazard.Owner
}

// release is safe to call on a zero-value hazard.Owner (e.g. the head
// sentinel's, which is never itself hazard-protected).
func (w window[K, V]) release() {
	w.currOwner.Release()
	w.prevOwner.Release()
}

// find returns the first node with key >= target, together with its
// predecessor, physically unlinking any logically-marked nodes it
// passes along the way (spec.md's cooperative snip). Both prev and
// curr's hazard protection is held on return; the caller must release
// the window once its own CAS against them has completed.
func (l *List[K, V]) find(d *hazard.Domain, key K) window[K, V] {
	for {
		prev := l.head
		var prevOwner hazard.Owner // head is a permanent sentinel, never retired
		curr := prev.next.Load()

		restart := false
		for {
			if curr == nil {
				return window[K, V]{prev: prev, prevOwner: prevOwner, curr: nil}
			}
			currOwner := d.Assign(unsafe.Pointer(curr))
			if prev.next.Load() != curr {
				currOwner.Release()
				restart = true
				break
			}
			next := curr.next.Load()
			if curr.marked.Load() {
				if !prev.next.CompareAndSwap(curr, next) {
					currOwner.Release()
					restart = true
					break
				}
				d.Retire(unsafe.Pointer(curr), func(p unsafe.Pointer) {
					l.free.push((*node[K, V])(p))
				})
				currOwner.Release()
				curr = next
				continue
			}
			if curr.key >= key {
				return window[K, V]{prev: prev, prevOwner: prevOwner, curr: curr, currOwner: currOwner}
			}
			prevOwner.Release()
			prev = curr
			prevOwner = currOwner
			curr = next
		}
		if restart {
			prevOwner.Release()
			continue
		}
	}
}

// Insert adds key/value if key is not already present, returning false
// if it was (matching the set semantics spec.md's list describes).
func (l *List[K, V]) Insert(d *hazard.Domain, key K, value V) bool {
	return l.insert(d, key, value, true)
}

// InsertNoAlloc is Insert's ALLOW_TO_ALLOCATE=false form.
func (l *List[K, V]) InsertNoAlloc(d *hazard.Domain, key K, value V) (inserted, allocated bool) {
	return l.insertReport(d, key, value, false)
}

func (l *List[K, V]) insert(d *hazard.Domain, key K, value V, allowAllocate bool) bool {
	inserted, _ := l.insertReport(d, key, value, allowAllocate)
	return inserted
}

func (l *List[K, V]) insertReport(d *hazard.Domain, key K, value V, allowAllocate bool) (inserted, allocated bool) {
	for {
		w := l.find(d, key)
		if w.curr != nil && w.curr.key == key {
			w.release()
			return false, false
		}

		n := l.free.pop(d)
		if n == nil {
			if !allowAllocate {
				w.release()
				return false, false
			}
			n = &node[K, V]{}
			l.allocated.Add(1)
			allocated = true
		}
		n.key = key
		v := value
		n.value.Store(&v)
		n.marked.Store(false)
		n.next.Store(w.curr)

		ok := w.prev.next.CompareAndSwap(w.curr, n)
		w.release()
		if ok {
			l.size.Add(1)
			return true, allocated
		}
		l.free.push(n)
	}
}

// Delete removes key, reporting whether it was present.
func (l *List[K, V]) Delete(d *hazard.Domain, key K) bool {
	for {
		w := l.find(d, key)
		if w.curr == nil || w.curr.key != key {
			w.release()
			return false
		}
		next := w.curr.next.Load()
		if !w.curr.marked.CompareAndSwap(false, true) {
			w.release()
			return false
		}
		// Best-effort physical unlink now; find() will finish the job
		// later (and retire the node itself) if this CAS loses a race
		// with a concurrent insert.
		unlinked := w.prev.next.CompareAndSwap(w.curr, next)
		curr := w.curr
		w.release()
		l.size.Add(-1)
		if unlinked {
			d.Retire(unsafe.Pointer(curr), func(p unsafe.Pointer) {
				l.free.push((*node[K, V])(p))
			})
		}
		return true
	}
}

// Find reports the value associated with key, if present.
func (l *List[K, V]) Find(d *hazard.Domain, key K) (V, bool) {
	w := l.find(d, key)
	defer w.release()
	if w.curr == nil || w.curr.key != key {
		var zero V
		return zero, false
	}
	v := w.curr.value.Load()
	if v == nil {
		var zero V
		return zero, false
	}
	return *v, true
}

// Size returns the number of live keys.
func (l *List[K, V]) Size() int64 {
	return l.size.Load()
}

// GetAllocatedNum returns the total number of nodes ever allocated by
// this list, including ones currently sitting in the free-node cache.
func (l *List[K, V]) GetAllocatedNum() int64 {
	return l.allocated.Load()
}

// freeStack is a lock-free Treiber stack of recycled nodes, linked
// through the node's own next field while it sits off the live list.
//
// pop hazard-protects the candidate node across its read-next/CAS
// window using the same global hazard registry Retire checks before
// reclaiming a node — exactly the protection the C++ original's
// fifo_free_nd_list dedicates five slots to (free_node_storage.hpp).
// Without it, a node popped here, reinserted live, deleted, and
// retired onto this free stack again between this call's Load and
// CompareAndSwap would let the CAS succeed against a stale .next,
// silently dropping whatever was pushed in between.
type freeStack[K constraints.Ordered, V any] struct {
	top atomic.Pointer[node[K, V]]
}

func (s *freeStack[K, V]) push(n *node[K, V]) {
	for {
		old := s.top.Load()
		n.next.Store(old)
		if s.top.CompareAndSwap(old, n) {
			return
		}
	}
}

func (s *freeStack[K, V]) pop(d *hazard.Domain) *node[K, V] {
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
