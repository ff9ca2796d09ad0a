package util

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[string]()
	for _, s := range []string{"A", "B", "C"} {
		require.True(t, q.Push(s))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.TryPop()
	assert.False(t, ok, "pop from empty queue should return false")
}

func TestQueue_WaitSignalsPush(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(7)
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait did not fire after push")
	}

	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestQueue_CloseRejectsPushAndKeepsItems(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	q.Push(1)
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Push(2))

	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, got)

	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()

	const producers, perProducer = 8, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}
