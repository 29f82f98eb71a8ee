package orderbook

import "sort"

// ladder keeps the active price levels of one side sorted so that the best
// price sits at the end of the slice: ascending for bids, descending for asks.
// Consuming the best level is then a cheap truncation.
type ladder struct {
	prices []int64
	bids   bool
}

// better reports whether a ranks ahead of b on this side.
func (l *ladder) better(a, b int64) bool {
	if l.bids {
		return a > b
	}
	return a < b
}

// search returns the index where p is or would be inserted.
func (l *ladder) search(p int64) int {
	return sort.Search(len(l.prices), func(i int) bool {
		// first price at least as good as p
		return !l.better(p, l.prices[i])
	})
}

func (l *ladder) insert(p int64) {
	i := l.search(p)
	if i < len(l.prices) && l.prices[i] == p {
		return
	}
	l.prices = append(l.prices, 0)
	copy(l.prices[i+1:], l.prices[i:])
	l.prices[i] = p
}

func (l *ladder) remove(p int64) {
	i := l.search(p)
	if i < len(l.prices) && l.prices[i] == p {
		l.prices = append(l.prices[:i], l.prices[i+1:]...)
	}
}

func (l *ladder) best() (int64, bool) {
	if len(l.prices) == 0 {
		return 0, false
	}
	return l.prices[len(l.prices)-1], true
}

func (l *ladder) len() int { return len(l.prices) }

// each visits prices best first until fn returns false.
func (l *ladder) each(fn func(p int64) bool) {
	for i := len(l.prices) - 1; i >= 0; i-- {
		if !fn(l.prices[i]) {
			return
		}
	}
}
