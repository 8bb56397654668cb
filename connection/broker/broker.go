/*
The broker fans every message the connection manager receives out to each subscriber.
Subscribers get their own buffered channel; a subscriber that falls behind has new
messages dropped for it rather than slowing down the publisher or its peers.
*/
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/slacknet/slacksdk/connection/socketmessage"
)

const DefaultBufferSize = 100

type DropHandler func(subscriberId string, message socketmessage.SocketMessage)

type Subscription struct {
	id       string
	messages chan socketmessage.SocketMessage
	dropped  atomic.Uint64
}

func (s *Subscription) Id() string {
	return s.id
}

// Messages is closed when the subscription is removed or the broker closes
func (s *Subscription) Messages() <-chan socketmessage.SocketMessage {
	return s.messages
}

func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type Broker struct {
	lock        sync.RWMutex
	subscribers map[string]*Subscription
	closed      bool

	onDrop DropHandler
}

func New(onDrop DropHandler) *Broker {
	return &Broker{
		subscribers: make(map[string]*Subscription),
		onDrop:      onDrop,
	}
}

// Subscribe returns the subscription registered under id, creating it if needed. An empty
// id gets a generated one.
func (b *Broker) Subscribe(id string, bufferSize int) *Subscription {
	if id == "" {
		id = uuid.New().String()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if existing, ok := b.subscribers[id]; ok {
		return existing
	}

	sub := &Subscription{
		id:       id,
		messages: make(chan socketmessage.SocketMessage, bufferSize),
	}

	if b.closed {
		close(sub.messages)
		return sub
	}

	b.subscribers[id] = sub
	return sub
}

func (b *Broker) Unsubscribe(id string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.messages)
	}
}

// Publish hands message to every subscriber without blocking and returns how many took it
func (b *Broker) Publish(message socketmessage.SocketMessage) int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	delivered := 0
	for id, sub := range b.subscribers {
		select {
		case sub.messages <- message:
			delivered++
		default:
			sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(id, message)
			}
		}
	}
	return delivered
}

func (b *Broker) Count() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.subscribers)
}

// Close ends every subscription. Later subscriptions come back already closed.
func (b *Broker) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.messages)
	}
}
