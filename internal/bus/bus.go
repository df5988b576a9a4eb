// Package bus fans radio events out to independent consumers.
package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	// TryPublish skips subscribers whose buffer is full.
	TryPublish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus over cskr/pubsub. Publish blocks once a
// subscriber's buffer is full, which throttles the radio reader instead of
// dropping packets.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger, capacity int) *PubSubBus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) TryPublish(topic string, msg any) {
	b.ps.TryPub(msg, topic)
}

// Subscribe returns one channel for all topics; messages from a single
// publisher keep their relative order across those topics.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)

	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")

		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}

	return reflect.TypeOf(v).String()
}
