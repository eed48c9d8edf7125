package notify

import (
	"context"
	"sync"
)

// MemoryDispatcher keeps every event in memory. It backs the in-memory
// server mode and tests.
type MemoryDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (d *MemoryDispatcher) Notify(_ context.Context, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

// Events returns a copy of everything received so far.
func (d *MemoryDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// ByType returns the received events of type t.
func (d *MemoryDispatcher) ByType(t EventType) []Event {
	var out []Event
	for _, e := range d.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event of type t addressed to targetID.
func (d *MemoryDispatcher) Last(t EventType, targetID string) (Event, bool) {
	events := d.ByType(t)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].TargetID == targetID {
			return events[i], true
		}
	}
	return Event{}, false
}
