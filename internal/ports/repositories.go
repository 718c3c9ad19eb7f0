package ports

import (
	"context"

	"qr-dine/internal/domain/notifications"
	"qr-dine/internal/domain/orders"
)

// OrderStore is the minimal read surface the fanout core consumes from
// storage. Not-found is reported as pgx.ErrNoRows by the Postgres adapter.
type OrderStore interface {
	// GetOrder loads the order aggregate (header + line items) fresh.
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	// ListOrderIDsForTable returns every order recorded against the given
	// table identifier, used by table sessions to join per-order topics.
	ListOrderIDsForTable(ctx context.Context, vendorID int64, tableIdentifier string) ([]int64, error)
	// ListActiveOrdersForTable returns the in-flight order aggregates for
	// the table projection endpoint.
	ListActiveOrdersForTable(ctx context.Context, vendorID int64, tableIdentifier string) ([]orders.Order, error)
	// UpdateTableLink re-links an order's table reference after the name
	// resolver detects drift (table renamed or identifier regenerated).
	UpdateTableLink(ctx context.Context, orderID, tableID int64, identifier string) error
}

// TableStore resolves structured table references and legacy identifiers.
type TableStore interface {
	GetTable(ctx context.Context, id int64) (*orders.Table, error)
	FindTableByIdentifier(ctx context.Context, vendorID int64, identifier string) (*orders.Table, error)
}

// NotificationStore persists vendor-facing notifications. MarkRead is
// ownership-scoped: it only touches rows belonging to vendorID and
// reports whether the notification exists for that vendor.
type NotificationStore interface {
	Create(ctx context.Context, n *notifications.Notification) error
	MarkRead(ctx context.Context, id, vendorID int64) (bool, error)
	ListForVendor(ctx context.Context, vendorID int64, limit int) ([]notifications.Notification, error)
	CountUnread(ctx context.Context, vendorID int64) (int, error)
}
