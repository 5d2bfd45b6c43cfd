package list

import (
	"sync"
	"testing"

	"github.com/kestrelcode/lockfree/hazard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListInsertFindDelete(t *testing.T) {
	l := New[int, string]()
	d := hazard.NewDomain()
	defer d.Close()

	require.True(t, l.Insert(d, 5, "five"))
	require.True(t, l.Insert(d, 1, "one"))
	require.True(t, l.Insert(d, 3, "three"))

	v, ok := l.Find(d, 3)
	require.True(t, ok)
	assert.Equal(t, "three", v)

	assert.True(t, l.Delete(d, 3))
	_, ok = l.Find(d, 3)
	assert.False(t, ok)

	assert.Equal(t, int64(2), l.Size())
}

func TestListInsertDuplicateKeyFails(t *testing.T) {
	l := New[int, string]()
	d := hazard.NewDomain()
	defer d.Close()

	require.True(t, l.Insert(d, 1, "a"))
	assert.False(t, l.Insert(d, 1, "b"))

	v, ok := l.Find(d, 1)
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestListDeleteMissingKeyReturnsFalse(t *testing.T) {
	l := New[int, string]()
	d := hazard.NewDomain()
	defer d.Close()

	assert.False(t, l.Delete(d, 42))
}

func TestListMaintainsAscendingOrder(t *testing.T) {
	l := New[int, struct{}]()
	d := hazard.NewDomain()
	defer d.Close()

	for _, k := range []int{5, 1, 9, 3, 7} {
		require.True(t, l.Insert(d, k, struct{}{}))
	}

	// Walk the list directly to assert it stayed sorted.
	var got []int
	for n := l.head.next.Load(); n != nil; n = n.next.Load() {
		got = append(got, n.key)
	}
	assert.Equal(t, []int{1, 3, 5, 7, 9}, got)

	// Every key is also reachable through Find.
	for i, want := range []int{1, 3, 5, 7, 9} {
		_, ok := l.Find(d, want)
		assert.True(t, ok, "expected key %d present at position %d", want, i)
	}
}

func TestListRecyclesDeletedNodes(t *testing.T) {
	l := New[int, int]()
	d := hazard.NewDomain()
	defer d.Close()

	l.Insert(d, 1, 100)
	l.Delete(d, 1)
	d.Prune()

	before := l.GetAllocatedNum()
	l.Insert(d, 2, 200)
	assert.Equal(t, before, l.GetAllocatedNum(), "insert after a pruned delete should reuse a recycled node")
}

// TestListConcurrentInsertDeleteRecyclesNodesSafely repeatedly
// inserts and deletes the same keys from many goroutines so nodes
// cycle rapidly between the live list and the free-node cache, the
// window the free stack's own hazard-protected pop guards against ABA
// on.
func TestListConcurrentInsertDeleteRecyclesNodesSafely(t *testing.T) {
	l := New[int, int]()
	const workers = 8
	const iterations = 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			d := hazard.NewDomain()
			defer d.Close()
			key := w
			for i := 0; i < iterations; i++ {
				l.Insert(d, key, i)
				l.Delete(d, key)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(0), l.Size())
}
