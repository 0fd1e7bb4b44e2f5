// Package notify delivers committed ledger events to downstream sinks
// without holding up the request that produced them.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/ledger"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
	deliveryTimeout  = 10 * time.Second
)

// Sink receives ledger events
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event ledger.Event) error
}

// Dispatcher fans events out to sinks from a bounded queue
type Dispatcher struct {
	queue   chan ledger.Event
	sinks   []Sink
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewDispatcher starts workers goroutines reading from a queue of size events
func NewDispatcher(size, workers int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	d := &Dispatcher{
		queue: make(chan ledger.Event, size),
		sinks: sinks,
	}

	d.wg.Add(workers)
	for range workers {
		go d.worker()
	}
	return d
}

// Notify enqueues an event. It never blocks; a full queue drops the event.
func (d *Dispatcher) Notify(event ledger.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event, "queue full")
	}
}

// Dropped reports how many events were discarded
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event ledger.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := sink.Deliver(ctx, event)
		cancel()

		if err != nil {
			logger.Warn("event delivery failed", logger.LogContext{
				TransactionID: event.TransactionID,
				OrderCode:     event.OrderCode,
				Fields: map[string]any{
					"sink":       sink.Name(),
					"event_type": string(event.Type),
					"error":      err.Error(),
				},
			})
		}
	}
}

func (d *Dispatcher) drop(event ledger.Event, reason string) {
	d.dropped.Add(1)
	logger.Warn("event dropped", logger.LogContext{
		TransactionID: event.TransactionID,
		OrderCode:     event.OrderCode,
		Fields: map[string]any{
			"event_type": string(event.Type),
			"reason":     reason,
		},
	})
}
