// Package responses correlates chunks arriving from worker connections with
// the HTTP handler waiting on each request.
package responses

import (
	"context"
	"sync"
)

// Channel is an unbounded FIFO of chunk payloads with a single reader.
// Writes after close are refused.
type Channel struct {
	mu     sync.Mutex
	items  []string
	closed bool
	notify chan struct{}
}

func newChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

func (ch *Channel) wake() {
	select {
	case ch.notify <- struct{}{}:
	default:
	}
}

func (ch *Channel) write(chunk string, final bool) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.items = append(ch.items, chunk)
	if final {
		ch.closed = true
	}
	ch.wake()
	return true
}

func (ch *Channel) close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	ch.wake()
}

// Closed reports whether the channel accepts no more writes.
func (ch *Channel) Closed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Next blocks until a chunk is available or the channel is closed and empty.
// ok is false once everything has been read from a closed channel.
func (ch *Channel) Next(ctx context.Context) (chunk string, ok bool, err error) {
	for {
		ch.mu.Lock()
		if len(ch.items) > 0 {
			chunk = ch.items[0]
			ch.items[0] = ""
			ch.items = ch.items[1:]
			ch.mu.Unlock()
			return chunk, true, nil
		}
		if ch.closed {
			ch.mu.Unlock()
			return "", false, nil
		}
		ch.mu.Unlock()

		select {
		case <-ch.notify:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Drain reads until the channel completes and returns every chunk in order.
func (ch *Channel) Drain(ctx context.Context) ([]string, error) {
	var out []string
	for {
		chunk, ok, err := ch.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, chunk)
	}
}

// Manager owns one Channel per in-flight request id.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewManager() *Manager {
	return &Manager{channels: make(map[string]*Channel)}
}

// CreateChannelForRequest allocates a fresh open channel for id, replacing
// any previous one.
func (m *Manager) CreateChannelForRequest(id string) *Channel {
	ch := newChannel()
	m.mu.Lock()
	prev := m.channels[id]
	m.channels[id] = ch
	m.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return ch
}

// TryAddChunk appends chunk to the channel for id and closes it when isFinal
// is set. Unknown or closed ids return false and the chunk is dropped.
func (m *Manager) TryAddChunk(id string, chunk string, isFinal bool) bool {
	m.mu.RLock()
	ch, ok := m.channels[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return ch.write(chunk, isFinal)
}

// Remove force-closes and evicts the channel for id. Buffered chunks stay
// readable.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	delete(m.channels, id)
	m.mu.Unlock()
	if ok {
		ch.close()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}
