package lfalloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/hazard"
)

// retrievedSlotsManager is spec.md §3.3/§4.2's per-class freed-slot
// cache. The C++ original layers three tiers (thread-local, global
// lock-free, global mutex-guarded); Go has no thread-local storage to
// hang the first tier off (see hazard.Domain's doc comment for the
// same tradeoff), so this is the two global tiers, queried in the same
// order: a lock-free non-hazard stack first, then a mutex-guarded
// in-hazard stack. [EXPANSION/adaptation — see DESIGN.md]
type retrievedSlotsManager struct {
	nonHazard lockFreeSlotStack
	inHazard  struct {
		sync.Mutex
		stack []*header
	}
}

// lockFreeSlotStack is a Treiber stack of freed headers linked through
// a scratch field reused while the slot is off the user's hands.
type lockFreeSlotStack struct {
	top atomic.Pointer[header]
}

func (s *lockFreeSlotStack) push(h *header) {
	for {
		old := s.top.Load()
		h.next = unsafe.Pointer(old)
		if s.top.CompareAndSwap(old, h) {
			return
		}
	}
}

// pop is best-effort: under contention it may return nil even if the
// stack is non-empty, matching spec.md's "pop is best-effort".
func (s *lockFreeSlotStack) pop() *header {
	old := s.top.Load()
	if old == nil {
		return nil
	}
	next := (*header)(old.next)
	if s.top.CompareAndSwap(old, next) {
		return old
	}
	return nil
}

// retire files a freed header into the tier matching its current
// hazard status: in-hazard if some reader is still (or was, at the
// moment of the check) protecting it, non-hazard otherwise.
func (m *retrievedSlotsManager) retire(h *header) {
	if hazard.CheckPtr(h.userPtr) {
		m.inHazard.Lock()
		m.inHazard.stack = append(m.inHazard.stack, h)
		m.inHazard.Unlock()
		return
	}
	m.nonHazard.push(h)
}

// request pops a slot for reuse, walking tiers in order. A slot popped
// from the in-hazard tier is re-probed and returned there if it is
// still hazard-protected.
func (m *retrievedSlotsManager) request() *header {
	if h := m.nonHazard.pop(); h != nil {
		return h
	}

	m.inHazard.Lock()
	defer m.inHazard.Unlock()
	for i := len(m.inHazard.stack) - 1; i >= 0; i-- {
		h := m.inHazard.stack[i]
		m.inHazard.stack = m.inHazard.stack[:i]
		if hazard.CheckPtr(h.userPtr) {
			m.inHazard.stack = append(m.inHazard.stack, h)
			continue
		}
		return h
	}
	return nil
}
