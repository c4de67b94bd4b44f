// Package broker implements the named-topic broadcast channel that carries
// every workspace event: edit updates, file lifecycle signals, chat and
// presence. Delivery to each subscriber preserves per-topic publish order,
// which the whole-document last-write-wins policy depends on.
package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// Topic names shared by server and clients.
const (
	TopicUpdates  = "updates"
	TopicFiles    = "files"
	TopicPublic   = "public"
	TopicPresence = "presence"
)

const defaultBufferSize = 64

// Message is one broadcast frame on a topic.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscriber struct {
	id     int64
	stream chan Message
}

// Broker fans each published message out to every current subscriber of the
// message's topic, including the publisher's own subscription.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

// New constructs an empty broker.
func New() *Broker {
	return &Broker{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a listener on the topic. The returned cancel function
// is idempotent; the subscription is also removed when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan Message, func()) {
	if topic == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		stream: make(chan Message, b.bufferSize),
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*subscriber)
	}
	b.subscribers[topic][sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.unsubscribe(topic, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.stream, cancel
}

// Publish delivers the message to every subscriber of its topic. Delivery
// happens under the broker lock so all subscribers observe one topic's
// messages in the same order the publishes occurred. Subscribers that have
// fallen more than a full buffer behind miss the message.
func (b *Broker) Publish(message Message) {
	if message.Topic == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers[message.Topic] {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

func (b *Broker) unsubscribe(topic string, id int64) {
	b.mu.Lock()
	subs := b.subscribers[topic]
	if subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.mu.Unlock()
}

// SubscriberCount reports the current number of listeners on a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}
