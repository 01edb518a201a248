package events

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	ch          chan Event
	executionID string
}

// Bus is a Sink that fans events out to channel subscribers. Slow subscribers
// lose their oldest buffered event instead of blocking the run.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	dropped     int64
	closed      bool
}

// NewBus creates a bus whose subscriber channels hold bufferSize events
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving events of one execution, or of all
// executions when executionID is empty.
func (b *Bus) Subscribe(executionID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.bufferSize), executionID: executionID}
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subscribers[:0]
	for _, sub := range b.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	b.subscribers = kept
}

// Emit implements Sink
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if sub.executionID != "" && sub.executionID != e.ExecutionID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Buffer full, drop oldest
			select {
			case <-sub.ch:
				atomic.AddInt64(&b.dropped, 1)
			default:
			}
			select {
			case sub.ch <- e:
			default:
				atomic.AddInt64(&b.dropped, 1)
			}
		}
	}
}

// Dropped returns how many events were discarded because of full buffers
func (b *Bus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Close closes every subscriber channel; later emits are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
