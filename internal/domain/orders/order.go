package orders

import "time"

// PaymentStatus tracks whether an order has been paid for.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// OrderItem represents a single line item in an order. Price and quantity
// are snapshotted at order time: historical prices never change even if
// the referenced menu item's price changes (or the item is deleted) later.
type OrderItem struct {
	ID           int64 // DB PK
	OrderID      int64
	MenuItemName *string // nil when the referenced menu item was deleted
	Quantity     int
	Price        Money // per-unit in cents, snapshot at order time
}

// Order is the projection of an order the fanout core reads from storage:
// just enough to build an event payload and resolve topics. Every optional
// attribute is an explicit nullable field with a documented default; the
// payload normalizer must never fail on a missing value.
type Order struct {
	ID            int64
	VendorID      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Status        OrderStatus
	PaymentStatus PaymentStatus
	CustomerName  *string // nil for anonymous QR orders
	Items         []OrderItem
	TotalAmount   Money

	// Table linkage. TableID is the structured reference; TableIdentifier is
	// the legacy freeform string recorded at creation; TableName is the
	// display-name snapshot from creation time, kept for rendering after the
	// table row is deleted. Any of the three may be absent.
	TableID         *int64
	TableIdentifier *string
	TableName       *string

	// Customer verification flags. Defaults: false / nil.
	CustomerVerified      bool
	VerificationTimestamp *time.Time

	// Delivery-issue flags. Defaults: false / nil.
	DeliveryIssueReported    bool
	IssueReportTimestamp     *time.Time
	IssueDescription         *string
	IssueResolved            bool
	IssueResolutionTimestamp *time.Time
	ResolutionMessage        *string
}

// SetTotalAmount recomputes total from items.
func (order *Order) SetTotalAmount() {
	var sum Money
	for _, it := range order.Items {
		sum += Money(it.Quantity) * it.Price
	}
	order.TotalAmount = sum
}
