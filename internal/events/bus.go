package events

import (
	"sync"
)

const defaultBufSize = 256

// Publisher is the side of the bus the engine depends on.
type Publisher interface {
	Publish(topic string, event Event)
}

// EventBus is a channel-based pub-sub event bus.
// Subscribers pick a topic, or every topic with SubscribeAll. Publishing never
// blocks: a full subscriber channel drops the event for that subscriber.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	dropped map[<-chan Event]int    // events dropped per subscriber
	closed  bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[string][]chan Event),
		dropped: make(map[<-chan Event]int),
	}
}

func (b *EventBus) subscribe(topic string, all bool, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	if all {
		b.allSubs = append(b.allSubs, ch)
	} else {
		b.subs[topic] = append(b.subs[topic], ch)
	}
	return ch
}

// Subscribe returns a channel receiving events published to topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, false, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", true, bufSize)
}

// Unsubscribe detaches ch and closes it. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	remove := func(list []chan Event) ([]chan Event, bool) {
		for i, c := range list {
			if (<-chan Event)(c) == ch {
				close(c)
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	}

	var found bool
	if b.allSubs, found = remove(b.allSubs); found {
		delete(b.dropped, ch)
		return
	}
	for topic, list := range b.subs {
		if b.subs[topic], found = remove(list); found {
			delete(b.dropped, ch)
			return
		}
	}
}

// Publish sends event to subscribers of topic and to every SubscribeAll channel.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		b.send(ch, event)
	}
	for _, ch := range b.allSubs {
		b.send(ch, event)
	}
}

func (b *EventBus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped[ch]++
	}
}

// Dropped returns how many events were dropped for ch because it was full.
func (b *EventBus) Dropped(ch <-chan Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[ch]
}

// Close closes the bus and every subscriber channel. Idempotent.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
