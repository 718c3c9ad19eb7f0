package realtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"qr-dine/internal/domain/notifications"
	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"
)

// Notifier persists a vendor-facing notification for each published order
// event and fans it out on the vendor topic. It is an injected publisher
// collaborator; a notifier failure never affects the event publish that
// triggered it.
type Notifier struct {
	store  ports.NotificationStore
	broker ports.Broker
	logger *logger.Logger
}

func NewNotifier(store ports.NotificationStore, broker ports.Broker, log *logger.Logger) *Notifier {
	return &Notifier{store: store, broker: broker, logger: log}
}

// OrderEvent records and fans out the notification for one published
// event. The row is the source of truth: if it cannot be stored, nothing
// is fanned out either.
func (n *Notifier) OrderEvent(ctx context.Context, event *contracts.OrderEvent) {
	vendorID, err := strconv.ParseInt(event.VendorID, 10, 64)
	if err != nil || vendorID <= 0 {
		return
	}

	title, message := notificationText(event)
	row := &notifications.Notification{
		VendorID: vendorID,
		Type:     notifications.KindOrder,
		Title:    title,
		Message:  message,
		Data: map[string]any{
			"order_id":   event.ID,
			"status":     event.Status,
			"table_name": event.TableName,
			"total":      event.TotalAmount,
		},
	}
	if err := n.store.Create(ctx, row); err != nil {
		n.logger.Error(ctx, "notification_store_failed", "Could not persist vendor notification", err)
		return
	}

	msg := contracts.BrokerMessage{
		Kind: contracts.KindVendorNotification,
		Notification: &contracts.VendorNotification{
			ID:        row.ID,
			Title:     row.Title,
			Message:   row.Message,
			Type:      row.Type,
			Read:      row.Read,
			Timestamp: row.CreatedAt.UTC().Format(time.RFC3339),
			Data:      row.Data,
		},
	}
	if err := n.broker.Publish(ctx, string(VendorTopic(vendorID)), msg); err != nil {
		n.logger.Error(ctx, "publish_failed", "Vendor notification fanout failed", err)
	}
}

// notificationText picks the title and message for an event by status.
func notificationText(event *contracts.OrderEvent) (title, message string) {
	where := event.TableName
	if where == "" {
		where = UnknownTableName
	}

	switch event.Status {
	case "pending":
		return "New Order Received", fmt.Sprintf("Order #%s from %s (%s)", event.ID, where, event.TotalAmount)
	case "accepted", "confirmed":
		return "Order Confirmed", fmt.Sprintf("Order #%s confirmed for %s", event.ID, where)
	case "preparing":
		return "Order Being Prepared", fmt.Sprintf("Order #%s is being prepared", event.ID)
	case "ready":
		return "Order Ready", fmt.Sprintf("Order #%s is ready for %s", event.ID, where)
	case "delivered", "completed":
		return "Order Completed", fmt.Sprintf("Order #%s completed", event.ID)
	case "rejected", "cancelled":
		return "Order Cancelled", fmt.Sprintf("Order #%s was cancelled", event.ID)
	default:
		return "Order Update", fmt.Sprintf("Order #%s status is now %s", event.ID, event.Status)
	}
}
