// Package pubsub implements a topic-scoped, best-effort, at-most-once
// message bus. It is the lowest leaf in the dependency order: every
// other component publishes or subscribes through here.
//
// The bounded-queue / drop-oldest-on-overflow policy follows a mailbox
// discipline where workers never block a sender and a saturated mailbox
// is a bug, not a backpressure mechanism — the same drop-oldest rule a
// reactor queue applies to slow websocket consumers.
package pubsub

import (
	"context"
	"sync"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/telemetry"
)

// Message is an immutable envelope published on a topic. Payload is left
// as `any` at this layer; concrete producers (sensor, attention, bio, room)
// publish their own typed structs and subscribers type-assert.
type Message struct {
	Topic   string
	Payload any
}

// Subscription is a live subscriber's handle. Read Messages until the
// channel closes (on Unsubscribe or publisher-initiated Close).
type Subscription struct {
	id       uint64
	topic    string
	messages chan Message
	bus      *Bus
	once     sync.Once
}

// Messages returns the receive channel. Consumers must drain it; the bus
// never blocks waiting for a slow reader — see queueSize/drop-oldest below.
func (s *Subscription) Messages() <-chan Message { return s.messages }

// Unsubscribe detaches and closes the channel. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
		close(s.messages)
	})
}

type subscriberEntry struct {
	id uint64
	ch chan Message
}

// Bus is the process-local pub/sub fabric. Messages never leave the
// process: nothing in the tree delivers across nodes, and room workers
// gossip room:{id}:crdt changes only to subscribers of this same Bus.
type Bus struct {
	queueSize int
	mu        sync.RWMutex
	topics    map[string][]subscriberEntry
	nextID    uint64
}

// New returns a Bus whose subscriber queues are bounded to queueSize
// (default 1024).
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Bus{queueSize: queueSize, topics: make(map[string][]subscriberEntry)}
}

// Subscribe returns a stream of messages on topic until the caller
// Unsubscribes or the owning ctx is cancelled (mirrors §4.2's
// "subscription ends when the subscribing worker dies" via ctx wiring to
// the worker's own lifetime).
func (b *Bus) Subscribe(ctx context.Context, topic string) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Message, b.queueSize)
	b.topics[topic] = append(b.topics[topic], subscriberEntry{id: id, ch: ch})
	b.mu.Unlock()

	sub := &Subscription{id: id, topic: topic, messages: ch, bus: b}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			sub.Unsubscribe()
		}()
	}
	return sub
}

// Publish delivers message to every current subscriber of topic.
// Non-blocking: a full subscriber queue drops its oldest entry to make
// room, per §4.2/§5's "publishers never block" contract.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := b.topics[topic]
	// copy the slice header under RLock, iterate outside it is unnecessary
	// here since we only read; but snapshot length to avoid holding the
	// lock across channel sends.
	snapshot := make([]subscriberEntry, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range snapshot {
		b.deliver(topic, s.ch, msg)
	}
}

func (b *Bus) deliver(topic string, ch chan Message, msg Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	// Queue full: drop the oldest message and retry once. Best-effort —
	// if a concurrent receive races us and drains first, the retry send
	// below still succeeds without needing a second drop.
	select {
	case <-ch:
		telemetry.SubscriberOverflowTotal.WithLabelValues(topic).Inc()
	default:
	}
	select {
	case ch <- msg:
	default:
		// Receiver emptied and immediately refilled by another publisher;
		// give up on this one message rather than spin.
		nlog.Debugln("pubsub: drop on contested queue", topic)
	}
}

// unsubscribe helper invoked by Subscription.Unsubscribe.
func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// SubscriberCount reports the current listener count for topic, used by
// node-status diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Well-known topic name builders (§4.2).
func SensorData(sensorID string) string   { return "sensor:" + sensorID + ":data" }
func AttentionSensor(sensorID string) string { return "attention:" + sensorID }
func AttentionAttr(sensorID, attrID string) string {
	return "attention:" + sensorID + ":" + attrID
}
func SystemLoad() string               { return "system:load" }
func SystemHomeostasis() string        { return "system:homeostasis" }
func SystemCircadian() string          { return "system:circadian" }
func BioNovelty(sensorID string) string { return "bio:novelty:" + sensorID }
func RoomCRDT(roomID string) string    { return "room:" + roomID + ":crdt" }
