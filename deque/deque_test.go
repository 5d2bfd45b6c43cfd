package deque

import (
	"sync"
	"testing"

	"github.com/kestrelcode/lockfree/hazard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequePushBackPopFrontIsFIFO(t *testing.T) {
	q := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	for i := 0; i < 5; i++ {
		q.PushBack(d, i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.PopFront(d)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDequePushFrontPopFrontIsLIFO(t *testing.T) {
	q := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	for i := 0; i < 5; i++ {
		q.PushFront(d, i)
	}
	for i := 4; i >= 0; i-- {
		v, ok := q.PopFront(d)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDequeMixedPushOrdering(t *testing.T) {
	q := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	q.PushBack(d, 2) // [2]
	q.PushFront(d, 1) // [1, 2]
	q.PushBack(d, 3) // [1, 2, 3]

	for _, want := range []int{1, 2, 3} {
		v, ok := q.PopFront(d)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.PopFront(d)
	assert.False(t, ok)
}

func TestDequePopEmptyReturnsFalse(t *testing.T) {
	q := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	_, ok := q.PopFront(d)
	assert.False(t, ok)
}

func TestDequeSizeTracksPushPop(t *testing.T) {
	q := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	q.PushBack(d, 1)
	q.PushFront(d, 2)
	assert.Equal(t, int64(2), q.Size())
	q.PopFront(d)
	assert.Equal(t, int64(1), q.Size())
}

// TestDequeConcurrentPushFrontPopFrontLosesNothing guards the race
// where PushFront links a node after a sentinel a concurrent PopFront
// is in the middle of retiring: every pushed value must eventually be
// popped exactly once, even when both ends are hammered at once.
func TestDequeConcurrentPushFrontPopFrontLosesNothing(t *testing.T) {
	q := New[int]()

	const producers = 8
	const perProducer = 500
	const total = producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			d := hazard.NewDomain()
			defer d.Close()
			for i := 0; i < perProducer; i++ {
				q.PushFront(d, p*perProducer+i)
			}
		}(p)
	}

	popped := make([]int, 0, total)
	var mu sync.Mutex
	var poppers sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < producers; c++ {
		poppers.Add(1)
		go func() {
			defer poppers.Done()
			d := hazard.NewDomain()
			defer d.Close()
			for {
				if v, ok := q.PopFront(d); ok {
					mu.Lock()
					popped = append(popped, v)
					mu.Unlock()
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	d := hazard.NewDomain()
	for {
		v, ok := q.PopFront(d)
		if !ok {
			break
		}
		mu.Lock()
		popped = append(popped, v)
		mu.Unlock()
	}
	d.Close()
	close(stop)
	poppers.Wait()

	assert.Len(t, popped, total, "every pushed value must be popped exactly once; a shorter list means a push was lost")
	seen := make(map[int]bool, total)
	for _, v := range popped {
		assert.False(t, seen[v], "value %d popped more than once", v)
		seen[v] = true
	}
	assert.Equal(t, int64(0), q.Size())
}
