package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// routingKeySanitizer maps topic names onto AMQP routing keys. Topic
// segments in AMQP are dot-separated, so ':' becomes '.' and any '.'
// already present in a topic becomes '-' first to keep the mapping
// collision-free for our topic shapes.
var routingKeySanitizer = strings.NewReplacer(".", "-", ":", ".")

// Broker fans broker messages out across processes through a RabbitMQ
// topic exchange. Local membership is tracked in-process; the consume
// loop dispatches by the topic carried inside the message body, so a
// lossy routing-key mapping never misroutes a delivery.
type Broker struct {
	client *Client
	logger *logger.Logger

	mu      sync.RWMutex
	members map[string]map[ports.Subscriber]struct{}

	queueName string
	ch        *amqp.Channel

	closed chan struct{}
	once   sync.Once
}

// NewBroker declares an exclusive per-process queue on the order-events
// exchange and starts the consume loop.
func NewBroker(ctx context.Context, client *Client, log *logger.Logger) (*Broker, error) {
	b := &Broker{
		client:  client,
		logger:  log,
		members: make(map[string]map[ports.Subscriber]struct{}),
		closed:  make(chan struct{}),
	}

	if err := b.setup(); err != nil {
		return nil, err
	}

	go b.consumeForever(context.WithoutCancel(ctx))

	return b, nil
}

// Join registers the subscriber under the topic and binds the queue to
// the matching routing key. The first subscriber on a topic creates the
// binding; later ones only touch local state.
func (b *Broker) Join(ctx context.Context, topic string, sub ports.Subscriber) error {
	b.mu.Lock()
	set, ok := b.members[topic]
	if !ok {
		set = make(map[ports.Subscriber]struct{})
		b.members[topic] = set
	}
	first := len(set) == 0
	set[sub] = struct{}{}
	ch := b.ch
	queue := b.queueName
	b.mu.Unlock()

	if !first || ch == nil {
		return nil
	}

	if err := ch.QueueBind(queue, routingKeySanitizer.Replace(topic), OrderEventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind topic %q: %w", topic, err)
	}
	return nil
}

// Leave removes the subscriber. The binding is kept even when the last
// local subscriber leaves; messages on an unwatched topic are dropped
// by the dispatch below, and rebinding churn is not worth the teardown.
func (b *Broker) Leave(ctx context.Context, topic string, sub ports.Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.members[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.members, topic)
		}
	}
	return nil
}

// Publish stamps the topic into the message and publishes it to the
// exchange. Local subscribers receive it through the same consume loop
// as remote ones, keeping one delivery path.
func (b *Broker) Publish(ctx context.Context, topic string, msg contracts.BrokerMessage) error {
	msg.Topic = topic

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broker message: %w", err)
	}

	return b.client.PublishMessage(OrderEventsExchange, routingKeySanitizer.Replace(topic), body)
}

// Close stops the consume loop and releases the channel.
func (b *Broker) Close() {
	b.once.Do(func() {
		close(b.closed)
		b.mu.Lock()
		if b.ch != nil {
			_ = b.ch.Close()
			b.ch = nil
		}
		b.mu.Unlock()
	})
}

// --- internals ---

// setup declares the exclusive queue and re-binds every topic that has
// local subscribers. Called on start and after each reconnect.
func (b *Broker) setup() error {
	ch, err := b.client.NewConsumerChannel(0)
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	b.mu.Lock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	b.ch = ch
	b.queueName = q.Name
	topics := make([]string, 0, len(b.members))
	for topic := range b.members {
		topics = append(topics, topic)
	}
	b.mu.Unlock()

	for _, topic := range topics {
		if err := ch.QueueBind(q.Name, routingKeySanitizer.Replace(topic), OrderEventsExchange, false, nil); err != nil {
			return fmt.Errorf("rebind topic %q: %w", topic, err)
		}
	}
	return nil
}

// consumeForever consumes from the per-process queue and dispatches to
// local subscribers, re-establishing the channel with backoff whenever
// the deliveries channel closes.
func (b *Broker) consumeForever(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-b.closed:
			return
		default:
		}

		b.mu.RLock()
		ch := b.ch
		queue := b.queueName
		b.mu.RUnlock()

		if ch == nil || ch.IsClosed() {
			if err := b.setup(); err != nil {
				b.logger.Error(ctx, "retry_attempted", fmt.Sprintf("broker channel setup failed: %v", err), err)
				time.Sleep(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			b.mu.RLock()
			ch = b.ch
			queue = b.queueName
			b.mu.RUnlock()
		}

		deliveries, err := ch.Consume(queue, "", true, true, false, false, nil)
		if err != nil {
			b.logger.Error(ctx, "retry_attempted", fmt.Sprintf("broker consume failed: %v", err), err)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		for d := range deliveries {
			b.dispatch(ctx, d.Body)
		}
		// deliveries closed: channel or connection dropped, loop re-sets up
	}
}

func (b *Broker) dispatch(ctx context.Context, body []byte) {
	var msg contracts.BrokerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		b.logger.Error(ctx, "message_dropped", "Discarding undecodable broker message", err)
		return
	}

	b.mu.RLock()
	set := b.members[msg.Topic]
	subs := make([]ports.Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(msg)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
