package notifications

import "time"

// Kind classifies vendor-facing notifications.
const (
	KindOrder   = "order"
	KindPayment = "payment"
	KindSystem  = "system"
)

// Notification is a persisted vendor-facing notification. Rows are created
// on every published order event and surfaced both over the vendor's live
// connection and the REST reads.
type Notification struct {
	ID        int64
	VendorID  int64
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
	ReadAt    *time.Time
}
