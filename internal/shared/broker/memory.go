package broker

import (
	"context"
	"sync"

	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
)

// Memory is the process-local topic broker: named topics, membership
// add/remove, and fanout to the members present at publish time. There is
// no replay and no durability; sessions joining after a publish miss it.
type Memory struct {
	mu      sync.RWMutex
	members map[string]map[ports.Subscriber]struct{}
}

var _ ports.Broker = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{members: make(map[string]map[ports.Subscriber]struct{})}
}

// Join adds sub to the topic's membership. Idempotent.
func (b *Memory) Join(_ context.Context, topic string, sub ports.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.members[topic]
	if !ok {
		set = make(map[ports.Subscriber]struct{})
		b.members[topic] = set
	}
	set[sub] = struct{}{}
	return nil
}

// Leave removes sub from the topic's membership. Leaving a topic that was
// never joined is a no-op.
func (b *Memory) Leave(_ context.Context, topic string, sub ports.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.members[topic]
	if !ok {
		return nil
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.members, topic)
	}
	return nil
}

// Publish delivers msg to every subscriber currently joined to topic. One
// subscriber's failure never reaches the publisher or the other members.
func (b *Memory) Publish(_ context.Context, topic string, msg contracts.BrokerMessage) error {
	msg.Topic = topic

	b.mu.RLock()
	subs := make([]ports.Subscriber, 0, len(b.members[topic]))
	for sub := range b.members[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		deliverSafe(sub, msg)
	}
	return nil
}

// MemberCount reports current membership of a topic.
func (b *Memory) MemberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members[topic])
}

// deliverSafe isolates a panicking subscriber from the fanout loop.
func deliverSafe(sub ports.Subscriber, msg contracts.BrokerMessage) {
	defer func() { _ = recover() }()
	sub.Deliver(msg)
}
