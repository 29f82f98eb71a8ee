// Package feed moves executed trades off the matching path to durable and
// external sinks.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/metrics"
)

// Sink receives batches in the order the engine produced them.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, trades []core.Trade, orders []core.Order) error
}

type batch struct {
	trades []core.Trade
	orders []core.Order
}

// Dispatcher queues batches and writes them to every sink from a single worker
// goroutine. Record never blocks: when the queue is full the batch is dropped
// and counted.
type Dispatcher struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	Timeout time.Duration // per sink write

	sinks []Sink
	queue chan batch

	mu       sync.RWMutex // shared by Record, exclusive while closing stopped
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		Logger:  zap.NewNop().Sugar(),
		Timeout: 5 * time.Second,
		sinks:   sinks,
		queue:   make(chan batch, queueSize),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Record enqueues a batch for the sinks. Batches arriving after shutdown are
// dropped and counted like a full queue.
func (d *Dispatcher) Record(trades []core.Trade, orders []core.Order) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	select {
	case <-d.stopped:
		d.Metrics.TradesDropped(len(trades))
		d.Logger.Warnw("recorder_stopped", "dropped_trades", len(trades), "dropped_orders", len(orders))
		return
	default:
	}

	select {
	case d.queue <- batch{trades: trades, orders: orders}:
	default:
		d.Metrics.TradesDropped(len(trades))
		d.Logger.Warnw("recorder_queue_full", "dropped_trades", len(trades), "dropped_orders", len(orders))
	}
}

func (d *Dispatcher) shutdown() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		close(d.stopped)
		d.mu.Unlock()
	})
}

// Run drains the queue until ctx is done or Stop is called, then flushes what
// is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case b := <-d.queue:
			d.write(b)
		case <-ctx.Done():
			d.shutdown()
			d.drain()
			return
		case <-d.stopped:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case b := <-d.queue:
			d.write(b)
		default:
			return
		}
	}
}

func (d *Dispatcher) write(b batch) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		err := s.WriteBatch(ctx, b.trades, b.orders)
		cancel()
		if err != nil {
			d.Metrics.RecordFailed(s.Name())
			d.Logger.Errorw("recorder_write_failed", "sink", s.Name(), "trades", len(b.trades), "err", err)
		}
	}
}

// Stop ends Run and waits for the queued batches to be flushed.
func (d *Dispatcher) Stop() {
	d.shutdown()
	<-d.done
}
