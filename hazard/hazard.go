// Package hazard implements the hazard-pointer safe-memory-reclamation
// scheme shared by every container in this module: a reader "protects"
// a node pointer by publishing it into a hazard slot before
// dereferencing it, and a writer that wants to free a retired node
// first checks that no slot anywhere still protects it.
//
// Go has no pthread-style thread-local storage, and goroutines may
// migrate between OS threads, so unlike the C++ original this package
// cannot hang a hazard list off "the calling thread" implicitly.
// Instead each goroutine that participates obtains a *Domain once (via
// NewDomain) and threads it through every Assign/Retire/Prune call it
// makes — the Domain is the Go analogue of the original's dynamic_tls
// hook, made explicit instead of hidden behind a TLS key.
package hazard

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kestrelcode/lockfree/logging"
)

const slotsPerGroup = 32

// group is a fixed-size array of hazard slots plus the two links
// spec.md §3.1 names: chainNext into the global append-only chain of
// every group ever created, and listNext into the owning domain's
// list. A group is never freed once created; isUsed records whether a
// domain currently owns it.
type group struct {
	slots     [slotsPerGroup]atomic.Pointer[byte]
	hint      atomic.Uint32
	chainNext atomic.Pointer[group]
	listNext  *group // only ever written by the owning Domain
	isUsed    atomic.Bool
}

func (g *group) tryAcquire() bool {
	return g.isUsed.CompareAndSwap(false, true)
}

func (g *group) release() {
	for i := range g.slots {
		g.slots[i].Store(nil)
	}
	g.listNext = nil
	g.isUsed.Store(false)
}

var chainHead atomic.Pointer[group]

// acquireGroup returns ownership of an idle group from the global
// chain, or allocates and publishes a new one if none is spare. New
// groups are installed at the head of the chain (LILO), matching
// spec.md's slot-assignment algorithm.
func acquireGroup() *group {
	for g := chainHead.Load(); g != nil; g = g.chainNext.Load() {
		if g.tryAcquire() {
			return g
		}
	}
	g := &group{}
	g.isUsed.Store(true)
	for {
		head := chainHead.Load()
		g.chainNext.Store(head)
		if chainHead.CompareAndSwap(head, g) {
			return g
		}
	}
}

// Domain is one goroutine's ownership of a hazard list: a chain of one
// or more groups, extended on demand as the goroutine needs more
// simultaneous protected pointers than a single group's 32 slots hold.
// It also owns that goroutine's retire FIFO (spec.md §3.2).
type Domain struct {
	head   *group // first group acquired; rest reachable via listNext
	retire retireList
}

// NewDomain acquires this goroutine's first hazard group. The caller
// owns the returned Domain for as long as it keeps dereferencing
// hazard-protected pointers, and must call Close when done (typically
// via defer, on worker-goroutine exit).
func NewDomain() *Domain {
	return &Domain{head: acquireGroup()}
}

// Close releases every group this Domain owns back to the spare pool
// and hands any still-pending retired pointers to the global retire
// list, mirroring spec.md's "on thread exit" transfer.
func (d *Domain) Close() {
	globalRetireList.Lock()
	globalRetireList.retireList.appendAll(d.retire)
	globalRetireList.Unlock()
	d.retire = retireList{}

	for g := d.head; g != nil; {
		next := g.listNext
		g.release()
		g = next
	}
	d.head = nil
}

// Owner is returned by Assign; releasing it clears the slot so it can
// be reused by a later Assign call on the same Domain. It is the Go
// analogue of spec.md's RAII slot_owner.
type Owner struct {
	slot *atomic.Pointer[byte]
}

// Release clears the hazard slot, ending this protection.
func (o Owner) Release() {
	if o.slot != nil {
		o.slot.Store(nil)
	}
}

// Assign finds or allocates a hazard slot in d's list, publishes p with
// release semantics, and returns an Owner that clears the slot on
// Release. p must not be nil.
func (d *Domain) Assign(p unsafe.Pointer) Owner {
	if p == nil {
		panic("hazard: Assign called with nil pointer")
	}
	for g := d.head; ; {
		if slot, ok := tryAssignInGroup(g, p); ok {
			return Owner{slot: slot}
		}
		if g.listNext == nil {
			g.listNext = acquireGroup()
		}
		g = g.listNext
	}
}

// tryAssignInGroup walks g's slots once starting at the group's hint,
// CAS-swapping the first empty (nil) slot it finds to p.
func tryAssignInGroup(g *group, p unsafe.Pointer) (*atomic.Pointer[byte], bool) {
	start := int(g.hint.Load()) % slotsPerGroup
	for i := 0; i < slotsPerGroup; i++ {
		idx := (start + i) % slotsPerGroup
		slot := &g.slots[idx]
		if slot.CompareAndSwap(nil, (*byte)(p)) {
			g.hint.Store(uint32((idx + 1) % slotsPerGroup))
			return slot, true
		}
	}
	return nil, false
}

// CheckPtr scans every group in the global chain and reports whether
// any slot currently holds p. Linearizable with respect to Assign
// under the slot's release-store / this function's acquire-load pair.
func CheckPtr(p unsafe.Pointer) bool {
	found := false
	Scan(func(held unsafe.Pointer) {
		if held == p {
			found = true
		}
	})
	return found
}

// Scan invokes f once for every currently-published (non-nil) slot
// value across every group, including ones owned by other domains.
func Scan(f func(unsafe.Pointer)) {
	for g := chainHead.Load(); g != nil; g = g.chainNext.Load() {
		for i := range g.slots {
			if v := g.slots[i].Load(); v != nil {
				f(unsafe.Pointer(v))
			}
		}
	}
}

// retireNode is one entry in a per-Domain retire FIFO.
type retireNode struct {
	ptr  unsafe.Pointer
	del  func(unsafe.Pointer)
	next *retireNode
}

type retireList struct {
	head, tail *retireNode
	len        int
}

func (l *retireList) push(n *retireNode) {
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		l.tail.next = n
		l.tail = n
	}
	l.len++
}

func (l *retireList) popHead() *retireNode {
	n := l.head
	if n == nil {
		return nil
	}
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	n.next = nil
	l.len--
	return n
}

// appendAll moves every node of src onto the end of l.
func (l *retireList) appendAll(src retireList) {
	if src.head == nil {
		return
	}
	if l.tail == nil {
		l.head = src.head
	} else {
		l.tail.next = src.head
	}
	l.tail = src.tail
	l.len += src.len
}

var globalRetireList struct {
	sync.Mutex
	retireList
}

// Retire enqueues p for deferred deletion once no hazard slot anywhere
// protects it, then opportunistically attempts one reclamation so
// retire lists don't grow unbounded on a busy Domain.
func (d *Domain) Retire(p unsafe.Pointer, del func(unsafe.Pointer)) {
	d.retire.push(&retireNode{ptr: p, del: del})
	d.tryReclaimHead()
}

// tryReclaimHead frees the oldest retired entry if it is no longer
// hazard-protected; otherwise it best-effort hands the list head to
// the global retire list (never blocking).
func (d *Domain) tryReclaimHead() {
	n := d.retire.head
	if n == nil {
		return
	}
	if !CheckPtr(n.ptr) {
		d.retire.popHead()
		n.del(n.ptr)
		return
	}
	if globalRetireList.TryLock() {
		moved := d.retire.popHead()
		globalRetireList.push(moved)
		globalRetireList.Unlock()
	}
}

// Prune drains as many retired entries as possible — both this
// Domain's own list and the global overflow list — whose pointers are
// no longer hazard-protected.
func (d *Domain) Prune() {
	pruneList(&d.retire)

	if !globalRetireList.TryLock() {
		return
	}
	defer globalRetireList.Unlock()
	pruneList(&globalRetireList.retireList)
}

func pruneList(l *retireList) {
	var requeue retireList
	for {
		n := l.popHead()
		if n == nil {
			break
		}
		if CheckPtr(n.ptr) {
			requeue.push(n)
			continue
		}
		n.del(n.ptr)
	}
	*l = requeue
}

// DestroyAll resets all global hazard-pointer state. Test-only: it is
// only safe to call when no other goroutine holds a Domain or is
// concurrently accessing any hazard-protected container.
func DestroyAll() {
	chainHead.Store(nil)
	globalRetireList.Lock()
	globalRetireList.retireList = retireList{}
	globalRetireList.Unlock()
	logging.Log(logging.LevelDebug, "hazard", "destroy-all", 0, nil, "hazard registry reset")
}
