package service

import "sync"

// Bus fans out View snapshots to subscribers. A slow subscriber loses its
// oldest pending snapshot, never the newest.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan *View]struct{}
}

// NewBus creates a new bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan *View]struct{})}
}

// Publish sends v to all subscribers (non-blocking).
func (b *Bus) Publish(v *View) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// full: drop the oldest and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives snapshots.
func (b *Bus) Subscribe() chan *View {
	ch := make(chan *View, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan *View) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
