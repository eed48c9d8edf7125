package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"go.uber.org/atomic"
)

// AsyncDispatcher queues events for a downstream dispatcher. Notify never
// blocks: when the queue is full the event is dropped and counted.
type AsyncDispatcher struct {
	next    Dispatcher
	logger  logging.Logger
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncDispatcher starts workers goroutines draining a queue of size
// buffer into next.
func NewAsyncDispatcher(next Dispatcher, buffer, workers int, logger logging.Logger) *AsyncDispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &AsyncDispatcher{
		next:   next,
		logger: logger.With("module", "notify"),
		queue:  make(chan Event, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		d.next.Notify(context.Background(), e)
	}
}

func (d *AsyncDispatcher) Notify(ctx context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Inc()
		return
	}

	select {
	case d.queue <- e:
	default:
		d.dropped.Inc()
		d.logger.Warn(ctx, "notification queue full, event dropped", "type", string(e.Type), "target_id", e.TargetID)
	}
}

// Dropped reports how many events were discarded.
func (d *AsyncDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *AsyncDispatcher) Close() {
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
