package silt

import "sync"

// buffer is the lock-protected holding area for events awaiting a
// flush. Capacity is a soft trigger, not a hard cap: appends past it
// are still accepted until a flush wins the race to drain.
type buffer struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

func newBuffer(capacity int) *buffer {
	return &buffer{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
	}
}

// Append adds ev at the tail and reports whether the buffer has
// reached capacity.
func (b *buffer) Append(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return len(b.events) >= b.capacity
}

// Drain swaps the pending slice for an empty one and returns the old
// contents, nil when nothing is pending. Every appended event is
// returned by exactly one Drain.
func (b *buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	drained := b.events
	b.events = make([]Event, 0, b.capacity)
	return drained
}

// Len reports the number of pending events.
func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
