package rpc

import (
	"errors"
	"sync"
)

// ErrClosed is returned when posting to a closed channel.
var ErrClosed = errors.New("rpc: channel closed")

// Channel is a broadcast message channel: every subscriber receives every
// posted message and filters for what concerns it.
type Channel interface {
	Post(msg []byte) error
	Subscribe(fn func(msg []byte)) (unsubscribe func())
}

const subscriberBuffer = 64

type subscriber struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// Bus is an in-process Channel. Each subscriber gets its own delivery
// goroutine so messages reach it in post order without blocking the poster
// on the handler.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

func (b *Bus) Post(msg []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- msg:
		case <-s.done:
		}
	}
	return nil
}

func (b *Bus) Subscribe(fn func(msg []byte)) func() {
	s := &subscriber{
		queue: make(chan []byte, subscriberBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.queue:
				select {
				case <-s.done:
					return
				default:
				}
				fn(msg)
			}
		}
	}()

	return func() {
		s.once.Do(func() { close(s.done) })
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}
}

// Close detaches every subscriber and rejects further posts.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(func() { close(s.done) })
	}
	b.subs = nil
}
