// Package idpool allocates the unique request identifiers carried on the
// wire. Identifiers are recycled through per-shard caches backed by a global
// reserve so concurrent submitters rarely contend on one lock, and every
// recycle shifts the identifier up by the window size so a reused slot index
// never reappears with the same identifier value.
package idpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool hands out unique identifiers from a fixed window. The pool holds
// exactly Window() free identifiers at rest; Acquire when all of them are in
// flight is a sizing bug and panics.
type Pool struct {
	window   uint64
	shardCap int
	next     atomic.Uint32
	shards   []shard

	globalMu sync.Mutex
	global   []uint64
}

type shard struct {
	mu   sync.Mutex
	free []uint64
}

// New creates a pool sized for maxOutstanding concurrent identifiers. The
// identifier window is twice that, rounded up to a power of two, and the low
// bits of an identifier index its slot directly.
func New(maxOutstanding int, shardCap int) *Pool {
	window := nextPow2(uint64(maxOutstanding) * 2)
	p := &Pool{
		window:   window,
		shardCap: shardCap,
		shards:   make([]shard, runtime.GOMAXPROCS(0)),
		global:   make([]uint64, 0, window),
	}
	// Seed generation zero. Acquire adds the window before returning, so
	// identifier zero is never issued.
	for v := uint64(0); v < window; v++ {
		p.global = append(p.global, v)
	}
	return p
}

// Window returns the identifier window size (a power of two). An
// identifier's slot index is id & (Window()-1).
func (p *Pool) Window() uint64 {
	return p.window
}

// Acquire returns a unique identifier, never zero. It panics if every
// identifier in the window is already in flight, which cannot happen when
// the channel honors its outstanding-request bound.
func (p *Pool) Acquire() uint64 {
	s := p.pick()
	s.mu.Lock()
	if len(s.free) == 0 {
		p.refill(s)
	}
	v := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.mu.Unlock()

	uid := v + p.window
	if uid == 0 {
		uid += p.window
	}
	return uid
}

// Release returns an identifier to the pool. The value is stored as-is; the
// next Acquire of the same slot hands out id + Window(), so stale consumer
// messages can never match a recycled identifier.
func (p *Pool) Release(id uint64) {
	s := p.pick()
	s.mu.Lock()
	if len(s.free) >= p.shardCap {
		p.flush(s)
	}
	s.free = append(s.free, id)
	s.mu.Unlock()
}

// pick chooses a shard round-robin. Goroutines have no stable CPU identity,
// so this spreads contention instead of chasing cache affinity.
func (p *Pool) pick() *shard {
	return &p.shards[int(p.next.Add(1))%len(p.shards)]
}

// refill moves up to half a shard's capacity from the global reserve into s,
// stealing from sibling shards when the reserve is dry. Called with s.mu
// held.
func (p *Pool) refill(s *shard) {
	// A cache of one would round to zero and fail against a full reserve.
	want := p.shardCap / 2
	if want < 1 {
		want = 1
	}

	p.globalMu.Lock()
	n := want
	if n > len(p.global) {
		n = len(p.global)
	}
	if n > 0 {
		s.free = append(s.free, p.global[len(p.global)-n:]...)
		p.global = p.global[:len(p.global)-n]
	}
	p.globalMu.Unlock()
	if n > 0 {
		return
	}

	// Reserve is empty; free identifiers may still sit in sibling caches.
	// TryLock keeps the s-then-sibling lock order deadlock-free.
	for i := range p.shards {
		o := &p.shards[i]
		if o == s || !o.mu.TryLock() {
			continue
		}
		take := want
		if take > len(o.free) {
			take = len(o.free)
		}
		if take > 0 {
			s.free = append(s.free, o.free[len(o.free)-take:]...)
			o.free = o.free[:len(o.free)-take]
		}
		o.mu.Unlock()
		if take > 0 {
			return
		}
	}
	panic("idpool: identifier window exhausted")
}

// flush moves half of s's cache back to the global reserve. Called with
// s.mu held.
func (p *Pool) flush(s *shard) {
	n := p.shardCap / 2
	if n < 1 {
		n = 1
	}
	p.globalMu.Lock()
	p.global = append(p.global, s.free[len(s.free)-n:]...)
	p.globalMu.Unlock()
	s.free = s.free[:len(s.free)-n]
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
