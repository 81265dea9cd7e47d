package idpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireNeverZero(t *testing.T) {
	p := New(64, 16)
	for i := 0; i < 200; i++ {
		id := p.Acquire()
		require.NotZero(t, id)
		p.Release(id)
	}
}

func TestWindowIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		max  int
		want uint64
	}{
		{1, 2},
		{3, 8},
		{64, 128},
		{100, 256},
		{32768, 65536},
	}
	for _, tt := range tests {
		p := New(tt.max, 16)
		assert.Equal(t, tt.want, p.Window(), "max=%d", tt.max)
	}
}

func TestRecycleShiftsGeneration(t *testing.T) {
	p := New(64, 16)

	first := p.Acquire()
	p.Release(first)

	// Drain until the same slot index comes back around.
	mask := p.Window() - 1
	seen := map[uint64]bool{}
	for i := uint64(0); i < p.Window(); i++ {
		id := p.Acquire()
		if id&mask == first&mask {
			assert.Equal(t, first+p.Window(), id,
				"recycled slot must carry a shifted identifier")
		}
		require.False(t, seen[id], "identifier %d issued twice", id)
		seen[id] = true
	}
}

func TestConcurrentAcquireUnique(t *testing.T) {
	const (
		workers = 8
		perWorker = 500
	)
	p := New(workers*perWorker, 32)

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, p.Acquire())
			}
			mu.Lock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("identifier %d issued twice", id)
				}
				seen[id] = true
			}
			mu.Unlock()
			for _, id := range ids {
				p.Release(id)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestExhaustionPanics(t *testing.T) {
	p := New(2, 4)
	n := int(p.Window())
	for i := 0; i < n; i++ {
		p.Acquire()
	}
	assert.Panics(t, func() { p.Acquire() })
}

func TestSingleEntryShardCache(t *testing.T) {
	// A cache bound of 1 must still drain the whole window: refill and
	// flush move at least one identifier per trip.
	p := New(4, 1)

	seen := map[uint64]bool{}
	held := make([]uint64, 0, p.Window())
	for i := uint64(0); i < p.Window(); i++ {
		id := p.Acquire()
		require.NotZero(t, id)
		require.False(t, seen[id], "identifier %d issued twice", id)
		seen[id] = true
		held = append(held, id)
	}

	// Recycle everything and go around again.
	for _, id := range held {
		p.Release(id)
	}
	for i := uint64(0); i < p.Window(); i++ {
		id := p.Acquire()
		require.False(t, seen[id], "recycled identifier %d lost its generation shift", id)
		seen[id] = true
	}
}

func TestReleaseFlushesToGlobal(t *testing.T) {
	// Shard cap of 4 forces flushes back to the reserve well before the
	// window drains; the pool must keep every identifier exactly once.
	p := New(128, 4)
	held := make([]uint64, 0, 64)
	for i := 0; i < 64; i++ {
		held = append(held, p.Acquire())
	}
	for _, id := range held {
		p.Release(id)
	}

	seen := map[uint64]bool{}
	for i := uint64(0); i < p.Window(); i++ {
		id := p.Acquire()
		require.False(t, seen[id])
		seen[id] = true
	}
}
