package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/matchgate/pkg/app/core"
)

// PebbleStore is the append-only trade log and order journal. It records what
// the engine did; the engine never reads it back.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	return open(path, &pebble.Options{})
}

// NewMemStore opens a store on an in-memory filesystem.
func NewMemStore() (*PebbleStore, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Name identifies the store in recorder logs and metrics.
func (s *PebbleStore) Name() string { return "pebble" }

// WriteBatch stores trades and the latest state of orders in one atomic batch.
func (s *PebbleStore) WriteBatch(_ context.Context, trades []core.Trade, orders []core.Order) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, t := range trades {
		val, err := encodeTrade(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := b.Set(tradeKey(t.Symbol, t.Timestamp, t.ID), val, nil); err != nil {
			return fmt.Errorf("failed to stage trade: %w", err)
		}
	}
	for _, o := range orders {
		val, err := encodeOrder(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := b.Set(orderKey(o.ID), val, nil); err != nil {
			return fmt.Errorf("failed to stage order: %w", err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// SaveTrade persists a single trade
func (s *PebbleStore) SaveTrade(t core.Trade) error {
	return s.WriteBatch(context.Background(), []core.Trade{t}, nil)
}

// SaveOrder persists the current state of an order
func (s *PebbleStore) SaveOrder(o core.Order) error {
	return s.WriteBatch(context.Background(), nil, []core.Order{o})
}

// LoadOrder loads the last journaled state of an order.
func (s *PebbleStore) LoadOrder(orderID string) (core.Order, bool, error) {
	data, closer, err := s.db.Get(orderKey(orderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return core.Order{}, false, nil
	}
	if err != nil {
		return core.Order{}, false, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	o, err := decodeOrder(data)
	if err != nil {
		return core.Order{}, false, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return o, true, nil
}

// LoadRecentTrades loads the most recent limit trades for a symbol, newest first.
func (s *PebbleStore) LoadRecentTrades(symbol string, limit int) ([]core.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var trades []core.Trade
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		t, err := decodeTrade(iter.Value())
		if err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}
