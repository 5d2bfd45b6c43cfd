package sharedptr

import (
	"sync"
	"testing"

	"github.com/kestrelcode/lockfree/hazard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedPtrLoadSeesStoredValue(t *testing.T) {
	d := hazard.NewDomain()
	defer d.Close()

	var a Atomic[int]
	v := 7
	a.Store(d, New(&v, nil))

	loaded, ok := a.Load(d)
	require.True(t, ok)
	assert.Equal(t, 7, *loaded.Get())
	loaded.Drop(d)
}

func TestSharedPtrStoreLoadConcurrentDropsExactlyOnce(t *testing.T) {
	d := hazard.NewDomain()
	defer d.Close()

	var a Atomic[int]
	v := 7
	freed := 0
	var freedMu sync.Mutex
	a.Store(d, New(&v, func(*int) {
		freedMu.Lock()
		freed++
		freedMu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readerDomain := hazard.NewDomain()
			defer readerDomain.Close()
			sp, ok := a.Load(readerDomain)
			if ok {
				assert.Equal(t, 7, *sp.Get())
				sp.Drop(readerDomain)
			}
		}()
	}
	wg.Wait()

	final, ok := a.Load(d)
	require.True(t, ok)
	final.Drop(d)
	a.Exchange(d, SharedPtr[int]{}).Drop(d) // release the atomic slot's own held reference

	freedMu.Lock()
	defer freedMu.Unlock()
	assert.Equal(t, 1, freed, "the deleter must run exactly once")
}

func TestWeakPtrExpiresAfterDrop(t *testing.T) {
	d := hazard.NewDomain()
	defer d.Close()

	v := 9
	sp := New(&v, nil)
	wp := sp.Weaken()

	assert.False(t, wp.Expired())
	sp.Drop(d)
	assert.True(t, wp.Expired())

	_, ok := wp.Lock()
	assert.False(t, ok)
	wp.Reset(d)
}

func TestSharedPtrCompareAndSwapStrong(t *testing.T) {
	d := hazard.NewDomain()
	defer d.Close()

	var a Atomic[int]
	v1, v2 := 1, 2
	a.Store(d, New(&v1, nil))

	expected, ok := a.Load(d)
	require.True(t, ok)
	defer expected.Drop(d)

	desired := New(&v2, nil)
	ok = a.CompareAndSwapStrong(d, &expected, desired)
	assert.True(t, ok)

	current, ok := a.Load(d)
	require.True(t, ok)
	assert.Equal(t, 2, *current.Get())
	current.Drop(d)
}
