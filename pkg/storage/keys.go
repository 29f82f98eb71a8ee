package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	trade:<symbol>:<unix-nanos, 20 digits>:<tradeID> → Trade
//	ord:<orderID>                                    → latest Order state
//
// Timestamps are zero-padded so a prefix scan returns trades in time order.
const (
	prefixOrder = "ord:"
	prefixTrade = "trade:"
)

// orderKey returns the key for an order
// Format: "ord:{orderID}"
func orderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

// tradeKey returns the key for a trade
// Format: "trade:{symbol}:{timestamp}:{tradeID}"
func tradeKey(symbol string, ts time.Time, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, ts.UnixNano(), tradeID))
}

// tradePrefix returns the prefix for all trades of a symbol
// Format: "trade:{symbol}:"
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
