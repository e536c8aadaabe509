package storage

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far a slow watcher may lag before events are dropped.
const subscriberBuffer = 64

type subscriber struct {
	prefix string
	ch     chan Event
}

// Broker fans out write events to in-process watchers. Embedded backends
// (memory, leveldb) use it to implement Watch.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped uint64
	closed  bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a watcher for prefix. The returned channel is closed
// when ctx ends or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, prefix string) (<-chan Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrUnavailable
	}
	s := &subscriber{prefix: prefix, ch: make(chan Event, subscriberBuffer)}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(s)
	}()
	return s.ch, nil
}

func (b *Broker) unsubscribe(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers evt to every matching watcher without blocking the writer.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if !Matches(s.prefix, evt.Path) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many events were discarded because a watcher lagged.
func (b *Broker) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}
