package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
)

func tableDelta(table string) ir.Delta {
	return ir.Delta{{Table: table}}
}

func TestDeltaQueue_FIFO(t *testing.T) {
	q := newDeltaQueue()

	for _, table := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(tableDelta(table)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		d, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, d[0].Table)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestDeltaQueue_SignalCoalesces(t *testing.T) {
	q := newDeltaQueue()
	q.Enqueue(tableDelta("a"))
	q.Enqueue(tableDelta("b"))

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestDeltaQueue_Close(t *testing.T) {
	q := newDeltaQueue()
	q.Enqueue(tableDelta("a"))
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(tableDelta("b")), "enqueue after close should return false")
	_, open := <-q.Wait()
	assert.False(t, open, "close should close the signal channel")

	d, ok := q.TryDequeue()
	require.True(t, ok, "queued deltas survive close")
	assert.Equal(t, "a", d[0].Table)
}

func TestDeltaQueue_ConcurrentEnqueue(t *testing.T) {
	q := newDeltaQueue()
	const producers, each = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				q.Enqueue(tableDelta("t"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*each, q.Len())
}
