package contracts

// OrderEventItem is the wire-format for a single line item in an order event.
type OrderEventItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"` // unit price as decimal string
}

// OrderEvent is the normalized, wire-ready snapshot of an order at the
// moment of publication. Every field is a primitive JSON type: ids are
// strings, money is decimal strings, timestamps are RFC 3339 strings.
// Built fresh on each publish, immutable once fanned out.
type OrderEvent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	VendorID string `json:"vendor_id"`

	// Table fields are null when the order has no table association.
	TableID         *string `json:"table_id"`
	TableIdentifier *string `json:"table_identifier"`
	TableName       string  `json:"table_name"`

	Items       []OrderEventItem `json:"items"`
	TotalAmount string           `json:"total_amount"`
	Message     string           `json:"message"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	// ServerTimestamp is refreshed on every build and is the staleness
	// tie-breaker for clients that receive out-of-order snapshots.
	ServerTimestamp string `json:"server_timestamp"`

	CustomerVerified      bool    `json:"customer_verified"`
	VerificationTimestamp *string `json:"verification_timestamp"`

	DeliveryIssueReported    bool    `json:"delivery_issue_reported"`
	IssueReportTimestamp     *string `json:"issue_report_timestamp"`
	IssueDescription         *string `json:"issue_description"`
	IssueResolved            bool    `json:"issue_resolved"`
	IssueResolutionTimestamp *string `json:"issue_resolution_timestamp"`
	ResolutionMessage        *string `json:"resolution_message"`
}

// VendorNotification mirrors a stored notification row on the wire.
type VendorNotification struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Read      bool           `json:"read"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Internal broker discriminators. Sessions never forward these verbatim;
// each session kind collapses them into its stable client-facing types.
const (
	KindOrderStatusUpdate  = "order_status_update" // order topic
	KindOrderStatus        = "order_status"        // vendor and table topics
	KindVendorNotification = "vendor_notification" // vendor topic
)

// BrokerMessage is what travels through a topic. Exactly one of Event or
// Notification is set, chosen by Kind. Topic is stamped by the broker on
// publish so cross-process backends can dispatch without parsing keys.
type BrokerMessage struct {
	Topic        string              `json:"topic"`
	Kind         string              `json:"kind"`
	Event        *OrderEvent         `json:"event,omitempty"`
	Notification *VendorNotification `json:"notification,omitempty"`
}

// ClientMessage is the inbound client -> session wire shape.
type ClientMessage struct {
	Type           string `json:"type"`
	Timestamp      *int64 `json:"timestamp,omitempty"`       // ping: client clock in ms
	NotificationID *int64 `json:"notification_id,omitempty"` // mark_notification_read
}
