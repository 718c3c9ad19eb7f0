package broker

import (
	"context"
	"sync"
	"testing"

	"qr-dine/internal/shared/contracts"
)

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []contracts.BrokerMessage
}

func (r *recorder) Deliver(msg contracts.BrokerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// panicker fails on every delivery.
type panicker struct{}

func (p *panicker) Deliver(contracts.BrokerMessage) { panic("subscriber gone") }

func TestMemoryFanout(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()

	a, b := &recorder{}, &recorder{}
	if err := bus.Join(ctx, "vendor:7", a); err != nil {
		t.Fatal(err)
	}
	if err := bus.Join(ctx, "vendor:7", b); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "vendor:7", contracts.BrokerMessage{Kind: contracts.KindOrderStatus}); err != nil {
		t.Fatal(err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("deliveries = %d / %d", a.count(), b.count())
	}

	// the delivered message carries its topic
	if a.msgs[0].Topic != "vendor:7" {
		t.Errorf("topic = %q", a.msgs[0].Topic)
	}
}

func TestMemoryNoReplay(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()

	if err := bus.Publish(ctx, "order:42", contracts.BrokerMessage{Kind: contracts.KindOrderStatusUpdate}); err != nil {
		t.Fatal(err)
	}

	late := &recorder{}
	if err := bus.Join(ctx, "order:42", late); err != nil {
		t.Fatal(err)
	}
	if late.count() != 0 {
		t.Errorf("late joiner received %d replayed messages", late.count())
	}
}

func TestMemoryLeave(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()
	r := &recorder{}

	if err := bus.Join(ctx, "table:7:T3", r); err != nil {
		t.Fatal(err)
	}
	if err := bus.Leave(ctx, "table:7:T3", r); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, "table:7:T3", contracts.BrokerMessage{}); err != nil {
		t.Fatal(err)
	}
	if r.count() != 0 {
		t.Errorf("left subscriber still received %d messages", r.count())
	}

	// leaving twice, or a never-joined topic, is a no-op
	if err := bus.Leave(ctx, "table:7:T3", r); err != nil {
		t.Fatal(err)
	}
	if err := bus.Leave(ctx, "order:1", r); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryIsolatesFailingSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()
	healthy := &recorder{}

	if err := bus.Join(ctx, "vendor:7", &panicker{}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Join(ctx, "vendor:7", healthy); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "vendor:7", contracts.BrokerMessage{Kind: contracts.KindOrderStatus}); err != nil {
		t.Fatalf("panicking subscriber surfaced to the publisher: %v", err)
	}
	if healthy.count() != 1 {
		t.Errorf("healthy subscriber deliveries = %d", healthy.count())
	}
}

func TestMemoryJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()
	r := &recorder{}

	for i := 0; i < 3; i++ {
		if err := bus.Join(ctx, "vendor:7", r); err != nil {
			t.Fatal(err)
		}
	}
	if got := bus.MemberCount("vendor:7"); got != 1 {
		t.Errorf("member count = %d", got)
	}

	if err := bus.Publish(ctx, "vendor:7", contracts.BrokerMessage{}); err != nil {
		t.Fatal(err)
	}
	if r.count() != 1 {
		t.Errorf("duplicate joins caused %d deliveries", r.count())
	}
}
