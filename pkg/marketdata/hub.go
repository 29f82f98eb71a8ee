// Package marketdata sequences book deltas and trades per symbol and fans them
// out to subscribers.
//
// Publication never waits on subscribers: events are appended to a per-symbol
// ring buffer and subscribers pull from it at their own pace. A subscriber that
// falls further behind than the ring retains is closed with ErrSlowConsumer and
// has to resubscribe for a fresh snapshot.
package marketdata

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/metrics"
	"github.com/uhyunpark/matchgate/pkg/util"
)

type Config struct {
	RingSize  int // events retained per symbol
	BatchSize int // max events returned by one Subscription.Next
}

func DefaultConfig() Config {
	return Config{RingSize: 4096, BatchSize: 256}
}

type Hub struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	Clock   util.Clock

	channels map[string]*channel // fixed at construction
	batch    int
}

// channel is the sequenced stream of one symbol.
type channel struct {
	symbol string

	mu   sync.Mutex
	seq  uint64             // last assigned sequence, 0 before the first event
	ring []core.MarketEvent // slot seq % len(ring)
	bids map[int64]int64    // aggregated level qty
	asks map[int64]int64
	subs map[*Subscription]struct{}
}

func New(symbols []string, cfg Config) *Hub {
	if cfg.RingSize < 1 {
		cfg.RingSize = DefaultConfig().RingSize
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	h := &Hub{
		Logger:   zap.NewNop().Sugar(),
		Clock:    util.RealClock{},
		channels: make(map[string]*channel, len(symbols)),
		batch:    cfg.BatchSize,
	}
	for _, s := range symbols {
		h.channels[s] = &channel{
			symbol: s,
			ring:   make([]core.MarketEvent, cfg.RingSize),
			bids:   make(map[int64]int64),
			asks:   make(map[int64]int64),
			subs:   make(map[*Subscription]struct{}),
		}
	}
	return h
}

func (h *Hub) channel(symbol string) (*channel, error) {
	ch, ok := h.channels[symbol]
	if !ok {
		return nil, core.Reject(core.ErrUnknownSymbol, "no market data for %q", symbol)
	}
	return ch, nil
}

// Publish assigns consecutive sequence numbers to events, folds deltas into
// the aggregated book and appends everything to the ring. Subscribers are
// signalled after the channel lock is released.
func (h *Hub) Publish(symbol string, events ...core.MarketEvent) {
	ch, err := h.channel(symbol)
	if err != nil {
		h.Logger.Warnw("publish_unknown_symbol", "symbol", symbol, "events", len(events))
		return
	}

	ch.mu.Lock()
	for _, ev := range events {
		ch.seq++
		ev.Seq = ch.seq
		ev.Symbol = symbol
		if ev.Kind == core.EventBookDelta && ev.Delta != nil {
			ch.apply(*ev.Delta)
		}
		ch.ring[ch.seq%uint64(len(ch.ring))] = ev
	}
	subs := make([]*Subscription, 0, len(ch.subs))
	for s := range ch.subs {
		subs = append(subs, s)
	}
	ch.mu.Unlock()

	for _, s := range subs {
		s.signal()
	}
	h.Metrics.Published(symbol, len(events))
}

func (ch *channel) apply(d core.BookDelta) {
	levels := ch.asks
	if d.Side == core.Buy {
		levels = ch.bids
	}
	if d.Qty == 0 {
		delete(levels, d.Price)
		return
	}
	levels[d.Price] = d.Qty
}

// oldest returns the lowest sequence still held in the ring.
func (ch *channel) oldest() uint64 {
	n := uint64(len(ch.ring))
	if ch.seq < n {
		return 1
	}
	return ch.seq - n + 1
}

// resumable reports whether every event after from is still retained.
func (ch *channel) resumable(from uint64) bool {
	return from <= ch.seq && from+1 >= ch.oldest()
}

func (ch *channel) snapshot(h *Hub) core.Snapshot {
	return core.Snapshot{
		Symbol:    ch.symbol,
		Seq:       ch.seq,
		Bids:      sortedLevels(ch.bids, true),
		Asks:      sortedLevels(ch.asks, false),
		Timestamp: h.Clock.Now(),
	}
}

func sortedLevels(levels map[int64]int64, desc bool) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(levels))
	for p, q := range levels {
		out = append(out, core.PriceLevel{Price: p, Qty: q})
	}
	slices.SortFunc(out, func(a, b core.PriceLevel) int {
		if desc {
			return cmp.Compare(b.Price, a.Price)
		}
		return cmp.Compare(a.Price, b.Price)
	})
	return out
}

// Snapshot returns the aggregated book of symbol at its current sequence.
func (h *Hub) Snapshot(symbol string) (core.Snapshot, error) {
	ch, err := h.channel(symbol)
	if err != nil {
		return core.Snapshot{}, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshot(h), nil
}

// Sequence returns the last sequence assigned for symbol.
func (h *Hub) Sequence(symbol string) (uint64, error) {
	ch, err := h.channel(symbol)
	if err != nil {
		return 0, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.seq, nil
}

// NewSubscription creates an empty subscription. It receives nothing until
// Subscribe adds symbols to it.
func (h *Hub) NewSubscription(id string) *Subscription {
	h.Metrics.SubscriptionOpened()
	return &Subscription{
		ID:      id,
		hub:     h,
		cursors: make(map[string]uint64),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Subscribe adds symbols to sub. For each symbol, when from holds a sequence
// that is still retained the stream resumes right after it; otherwise a
// snapshot is taken at sequence S, returned, and queued on the subscription
// ahead of every event after S.
func (h *Hub) Subscribe(sub *Subscription, symbols []string, from map[string]uint64) ([]core.Snapshot, error) {
	chans := make([]*channel, 0, len(symbols))
	for _, s := range symbols {
		ch, err := h.channel(s)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}

	var snaps []core.Snapshot
	for _, ch := range chans {
		var (
			cursor uint64
			snap   *core.Snapshot
		)

		ch.mu.Lock()
		if sub.closed() {
			ch.mu.Unlock()
			return snaps, sub.Err()
		}
		if f, ok := from[ch.symbol]; ok && ch.resumable(f) {
			cursor = f
		} else {
			s := ch.snapshot(h)
			cursor, snap = s.Seq, &s
		}
		ch.subs[sub] = struct{}{}
		ch.mu.Unlock()

		sub.mu.Lock()
		sub.cursors[ch.symbol] = cursor
		sub.dropPending(ch.symbol)
		if snap != nil {
			sub.pending = append(sub.pending, core.SnapshotEvent(*snap))
			snaps = append(snaps, *snap)
		}
		sub.mu.Unlock()
		sub.signal()

		h.Logger.Debugw("subscribed", "sub", sub.ID, "symbol", ch.symbol, "seq", cursor, "resumed", snap == nil)
	}
	return snaps, nil
}

// Unsubscribe removes symbols from sub. Unknown symbols are ignored.
func (h *Hub) Unsubscribe(sub *Subscription, symbols []string) {
	for _, s := range symbols {
		ch, ok := h.channels[s]
		if !ok {
			continue
		}
		ch.mu.Lock()
		delete(ch.subs, sub)
		ch.mu.Unlock()

		sub.mu.Lock()
		delete(sub.cursors, s)
		sub.dropPending(s)
		sub.mu.Unlock()
	}
}

// Close ends sub with reason; a nil reason is a normal disconnect. It is safe
// to call more than once and only the first reason is kept.
func (h *Hub) Close(sub *Subscription, reason error) {
	first := false
	sub.closeOnce.Do(func() {
		first = true
		sub.mu.Lock()
		sub.err = reason
		if sub.err == nil {
			sub.err = ErrClosed
		}
		sub.mu.Unlock()
		close(sub.done)
	})
	if !first {
		return
	}

	for _, ch := range h.channels {
		ch.mu.Lock()
		delete(ch.subs, sub)
		ch.mu.Unlock()
	}

	slow := errors.Is(reason, core.ErrSlowConsumer)
	h.Metrics.SubscriptionClosed(slow)
	if slow {
		h.Logger.Warnw("subscriber_lagged", "sub", sub.ID, "err", reason)
	}
}
