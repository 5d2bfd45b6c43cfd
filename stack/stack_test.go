package stack

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kestrelcode/lockfree/hazard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackLIFOOrder(t *testing.T) {
	s := New[int]()
	d := hazard.NewDomain()
	defer d.Close()

	for i := 0; i < 10; i++ {
		s.Push(d, i)
	}
	for i := 9; i >= 0; i-- {
		v, ok := s.Pop(d)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := s.Pop(d)
	assert.False(t, ok)
}

func TestStackPopEmptyReturnsFalse(t *testing.T) {
	s := New[string]()
	d := hazard.NewDomain()
	defer d.Close()

	_, ok := s.Pop(d)
	assert.False(t, ok)
}

func TestStackPushNoAllocFailsWithEmptyFreeCache(t *testing.T) {
	s := New[int]()
	d := hazard.NewDomain()
	defer d.Close()
	assert.False(t, s.PushNoAlloc(d, 1))
}

func TestStackSingleElementConcurrentPopSeenOnce(t *testing.T) {
	// Mirrors spec.md §8's sticky-counter scenario at the container
	// level: two racing poppers against a single-element stack, exactly
	// one must see the value.
	s := New[int]()
	setupDomain := hazard.NewDomain()
	s.Push(setupDomain, 42)
	setupDomain.Close()

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := hazard.NewDomain()
			defer d.Close()
			_, ok := s.Pop(d)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	trueCount := 0
	for _, r := range results {
		if r {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount)
}

func TestStackConcurrentPushPopPreservesCount(t *testing.T) {
	s := New[int]()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := hazard.NewDomain()
			defer d.Close()
			for i := 0; i < perProducer; i++ {
				s.Push(d, i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(producers*perProducer), s.Size())

	popped := 0
	d := hazard.NewDomain()
	defer d.Close()
	for {
		if _, ok := s.Pop(d); ok {
			popped++
			continue
		}
		break
	}
	assert.Equal(t, producers*perProducer, popped)
}

// TestStackConcurrentPushPopRecyclesNodesSafely races pushers and
// poppers against each other so nodes cycle rapidly between the live
// stack and the free-node cache, the window the free stack's own
// hazard-protected pop guards against ABA on.
func TestStackConcurrentPushPopRecyclesNodesSafely(t *testing.T) {
	s := New[int]()
	const producers = 8
	const perProducer = 2000
	const total = producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			d := hazard.NewDomain()
			defer d.Close()
			for i := 0; i < perProducer; i++ {
				s.Push(d, i)
			}
		}()
	}

	var popped atomic.Int64
	var poppers sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < producers; c++ {
		poppers.Add(1)
		go func() {
			defer poppers.Done()
			d := hazard.NewDomain()
			defer d.Close()
			for {
				if _, ok := s.Pop(d); ok {
					popped.Add(1)
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
		if _, ok := s.Pop(d); ok {
			popped.Add(1)
			continue
		}
		break
	}
	d.Close()
	close(stop)
	poppers.Wait()

	assert.Equal(t, int64(total), popped.Load())
	assert.Equal(t, int64(0), s.Size())
}
