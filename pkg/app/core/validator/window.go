package validator

import (
	"hash/maphash"
	"sync"
	"time"

	"github.com/uhyunpark/matchgate/pkg/util"
)

// Window remembers recently seen idempotency keys. Keys are spread across
// independently locked shards so replay protection never becomes a global lock.
// A key is forgotten after ttl or when its shard exceeds its share of capacity,
// whichever happens first.
type Window struct {
	seed     maphash.Seed
	shards   []*windowShard
	mask     uint64
	ttl      time.Duration
	shardCap int
	clock    util.Clock
}

type windowEntry struct {
	key string
	at  time.Time
}

type windowShard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	fifo []windowEntry // insertion order, head at index 0
}

// NewWindow rounds shards up to a power of two.
func NewWindow(ttl time.Duration, capacity, shards int, clock util.Clock) *Window {
	if shards < 1 {
		shards = 1
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	if capacity < n {
		capacity = n
	}
	if clock == nil {
		clock = util.RealClock{}
	}

	w := &Window{
		seed:     maphash.MakeSeed(),
		shards:   make([]*windowShard, n),
		mask:     uint64(n - 1),
		ttl:      ttl,
		shardCap: capacity / n,
		clock:    clock,
	}
	for i := range w.shards {
		w.shards[i] = &windowShard{seen: make(map[string]time.Time)}
	}
	return w
}

func (w *Window) shard(key string) *windowShard {
	return w.shards[maphash.String(w.seed, key)&w.mask]
}

// Remember records key and reports true if it was not already inside the window.
// Check and record happen under one shard lock, so of two concurrent callers with
// the same key exactly one gets true.
func (w *Window) Remember(key string) bool {
	now := w.clock.Now()
	s := w.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evict(now, w.ttl, w.shardCap-1)

	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = now
	s.fifo = append(s.fifo, windowEntry{key: key, at: now})
	return true
}

// Seen reports whether key is currently inside the window without recording it.
func (w *Window) Seen(key string) bool {
	now := w.clock.Now()
	s := w.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.seen[key]
	return ok && (w.ttl <= 0 || now.Sub(at) < w.ttl)
}

// Len counts keys currently held across shards.
func (w *Window) Len() int {
	n := 0
	for _, s := range w.shards {
		s.mu.Lock()
		n += len(s.seen)
		s.mu.Unlock()
	}
	return n
}

// evict drops expired entries and trims the shard to at most limit entries.
func (s *windowShard) evict(now time.Time, ttl time.Duration, limit int) {
	drop := 0
	for drop < len(s.fifo) {
		e := s.fifo[drop]
		expired := ttl > 0 && now.Sub(e.at) >= ttl
		if !expired && len(s.fifo)-drop <= limit {
			break
		}
		delete(s.seen, e.key)
		drop++
	}
	if drop == 0 {
		return
	}
	s.fifo = s.fifo[drop:]
	// reclaim the backing array once most of it is dead
	if cap(s.fifo) > 64 && len(s.fifo) < cap(s.fifo)/4 {
		s.fifo = append([]windowEntry(nil), s.fifo...)
	}
}
