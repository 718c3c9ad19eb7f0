package orders

// OrderStatus is a custom type that represents the current status of an order in its lifecycle.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusRejected  OrderStatus = "rejected"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusDelivered OrderStatus = "delivered"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// ActiveStatuses are the statuses a table session still cares about.
// Delivered/completed/cancelled/rejected orders no longer appear in the
// table projection, though their topics keep publishing until clients drop.
var ActiveStatuses = []OrderStatus{
	StatusPending, StatusAccepted, StatusConfirmed, StatusPreparing, StatusReady,
}

// Valid reports whether s is a known status. Transition legality is owned
// by the storage layer; the fanout core re-publishes every transition,
// terminal ones included.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusConfirmed, StatusRejected,
		StatusPreparing, StatusReady, StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
