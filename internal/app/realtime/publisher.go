package realtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"
)

// defaultRetryDelay separates the first and second publish attempts.
const defaultRetryDelay = 2 * time.Second

// Publisher is the single entry point order-mutating workflows call after
// committing a storage change. Delivery is best-effort: the boolean result
// reports whether an event payload was built, never per-topic delivery,
// and a publish failure never rolls back the caller's commit.
type Publisher struct {
	orders   ports.OrderStore
	broker   ports.Broker
	resolver *TableNameResolver
	notifier *Notifier
	logger   *logger.Logger

	retryDelay time.Duration
}

// NewPublisher wires the publisher. notifier may be nil to disable the
// vendor-notification side effect.
func NewPublisher(orderStore ports.OrderStore, broker ports.Broker, resolver *TableNameResolver, notifier *Notifier, log *logger.Logger) *Publisher {
	return &Publisher{
		orders:     orderStore,
		broker:     broker,
		resolver:   resolver,
		notifier:   notifier,
		logger:     log,
		retryDelay: defaultRetryDelay,
	}
}

// PublishOrderEvent reloads the order (unless a prebuilt event is
// supplied), normalizes it and fans it out to the order, vendor and table
// topics. Per-topic broker failures are logged and skipped; the return
// value is true iff the event payload was built and addressed.
func (p *Publisher) PublishOrderEvent(ctx context.Context, orderID int64, prebuilt *contracts.OrderEvent) bool {
	event := prebuilt
	if event == nil {
		built, err := p.buildEvent(ctx, orderID)
		if err != nil {
			p.logger.Error(ctx, "event_build_failed", fmt.Sprintf("Could not build event for order %d", orderID), err)
			return false
		}
		event = built
	}

	vendorID, err := strconv.ParseInt(event.VendorID, 10, 64)
	if err != nil || vendorID <= 0 {
		p.logger.Error(ctx, "event_build_failed", "Event has no usable vendor id", err)
		return false
	}

	p.publishTo(ctx, OrderTopic(orderID), contracts.BrokerMessage{Kind: contracts.KindOrderStatusUpdate, Event: event})
	p.publishTo(ctx, VendorTopic(vendorID), contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event})
	if event.TableIdentifier != nil && *event.TableIdentifier != "" {
		p.publishTo(ctx, TableTopic(vendorID, *event.TableIdentifier), contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event})
		p.publishTo(ctx, LegacyTableTopic(vendorID, *event.TableIdentifier), contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event})
	}

	if p.notifier != nil {
		p.notifier.OrderEvent(ctx, event)
	}

	p.logger.Debug(ctx, "event_published", fmt.Sprintf("Published order %d status %s", orderID, event.Status), nil)
	return true
}

// PublishWithRetry runs the whole publish, retries once after a short
// delay, then falls back to a minimal direct publish to the vendor and
// order topics. A false return means full delivery is not guaranteed; it
// never asks the caller to roll anything back.
func (p *Publisher) PublishWithRetry(ctx context.Context, orderID int64, prebuilt *contracts.OrderEvent) bool {
	if p.PublishOrderEvent(ctx, orderID, prebuilt) {
		return true
	}

	p.logger.Warn(ctx, "retry_attempted", fmt.Sprintf("Retrying publish for order %d", orderID), nil)
	if err := sleepWithContext(ctx, p.retryDelay); err != nil {
		return false
	}
	if p.PublishOrderEvent(ctx, orderID, prebuilt) {
		return true
	}

	p.publishFallback(ctx, orderID)
	return false
}

func (p *Publisher) buildEvent(ctx context.Context, orderID int64) (*contracts.OrderEvent, error) {
	order, err := p.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	tableName := p.resolver.Resolve(ctx, order)
	event := BuildOrderEvent(order, tableName)
	return &event, nil
}

func (p *Publisher) publishTo(ctx context.Context, topic Topic, msg contracts.BrokerMessage) {
	if err := p.broker.Publish(ctx, string(topic), msg); err != nil {
		p.logger.Error(ctx, "publish_failed", fmt.Sprintf("Publish to %s failed", topic), err)
	}
}

// publishFallback sends a minimal update to the two most important topics
// when the full event could not be built. The vendor topic needs a vendor
// id, which costs one more short lookup; if even that fails the order
// topic alone gets the update.
func (p *Publisher) publishFallback(ctx context.Context, orderID int64) {
	event := &contracts.OrderEvent{
		ID:              strconv.FormatInt(orderID, 10),
		Status:          "unknown",
		TableName:       UnknownTableName,
		Items:           []contracts.OrderEventItem{},
		TotalAmount:     "0.00",
		Message:         fmt.Sprintf("Order %d was updated", orderID),
		ServerTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	p.publishTo(ctx, OrderTopic(orderID), contracts.BrokerMessage{Kind: contracts.KindOrderStatusUpdate, Event: event})

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	order, err := p.orders.GetOrder(lookupCtx, orderID)
	if err != nil {
		p.logger.Error(ctx, "fallback_degraded", "Fallback publish reached the order topic only", err)
		return
	}

	event.Status = string(order.Status)
	event.VendorID = strconv.FormatInt(order.VendorID, 10)
	p.publishTo(ctx, VendorTopic(order.VendorID), contracts.BrokerMessage{Kind: contracts.KindOrderStatus, Event: event})
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
