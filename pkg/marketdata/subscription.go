package marketdata

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

// ErrClosed is the terminal error of a subscription closed without a reason.
var ErrClosed = errors.New("subscription closed")

// Subscription is one subscriber's view of the hub: the symbols it follows and
// the last sequence delivered for each. It is drained by a single goroutine
// calling Next.
type Subscription struct {
	ID  string
	hub *Hub

	mu      sync.Mutex
	cursors map[string]uint64  // last delivered sequence per symbol
	pending []core.MarketEvent // snapshots not yet delivered
	err     error

	notify    chan struct{} // one slot, coalesces wakeups
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// dropPending discards an undelivered snapshot of symbol. Caller holds s.mu.
func (s *Subscription) dropPending(symbol string) {
	kept := s.pending[:0]
	for _, ev := range s.pending {
		if ev.Symbol != symbol {
			kept = append(kept, ev)
		}
	}
	s.pending = kept
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, nil while it is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cursor returns the last sequence delivered for symbol.
func (s *Subscription) Cursor(symbol string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.cursors[symbol]
	return seq, ok
}

// Symbols returns the followed symbols in sorted order.
func (s *Subscription) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cursors))
	for sym := range s.cursors {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Next blocks until events are available and returns them in sequence order
// per symbol. Pending snapshots always come first, so a snapshot at sequence S
// precedes every event of that symbol after S.
//
// When a cursor has fallen out of the ring the subscription is closed and Next
// returns ErrSlowConsumer. After the subscription is closed Next returns its
// terminal error.
func (s *Subscription) Next(ctx context.Context) ([]core.MarketEvent, error) {
	for {
		if s.closed() {
			return nil, s.Err()
		}

		s.mu.Lock()
		if len(s.pending) > 0 {
			out := s.pending
			s.pending = nil
			s.mu.Unlock()
			return out, nil
		}
		cursors := make(map[string]uint64, len(s.cursors))
		syms := make([]string, 0, len(s.cursors))
		for sym, seq := range s.cursors {
			cursors[sym] = seq
			syms = append(syms, sym)
		}
		s.mu.Unlock()
		sort.Strings(syms)

		var out []core.MarketEvent
		for _, sym := range syms {
			budget := s.hub.batch - len(out)
			if budget <= 0 {
				break
			}
			evs, err := s.hub.read(sym, cursors[sym], budget)
			if err != nil {
				s.hub.Close(s, err)
				return nil, err
			}
			if len(evs) == 0 {
				continue
			}

			s.mu.Lock()
			// a concurrent resubscribe moved the cursor; its snapshot supersedes these
			if cur, ok := s.cursors[sym]; ok && cur == cursors[sym] {
				s.cursors[sym] = evs[len(evs)-1].Seq
				out = append(out, evs...)
			}
			s.mu.Unlock()
		}
		if len(out) > 0 {
			// more may be waiting beyond the batch
			s.signal()
			return out, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// read copies up to max events of symbol after sequence from.
func (h *Hub) read(symbol string, from uint64, max int) ([]core.MarketEvent, error) {
	ch, err := h.channel(symbol)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if from >= ch.seq {
		return nil, nil
	}
	if from+1 < ch.oldest() {
		return nil, core.Reject(core.ErrSlowConsumer, "%s cursor %d behind retained window starting at %d", symbol, from, ch.oldest())
	}

	end := min(ch.seq, from+uint64(max))
	out := make([]core.MarketEvent, 0, end-from)
	for seq := from + 1; seq <= end; seq++ {
		out = append(out, ch.ring[seq%uint64(len(ch.ring))])
	}
	return out, nil
}
