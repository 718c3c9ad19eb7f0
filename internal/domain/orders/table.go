package orders

import (
	"time"

	"github.com/google/uuid"
)

// Table is a physical table a vendor registered for QR ordering. QRCode is
// the identifier embedded in the printed QR link; vendors regenerate it,
// which is why orders also record the identifier they were created with.
type Table struct {
	ID        int64
	VendorID  int64
	Name      string
	QRCode    uuid.UUID
	IsActive  bool
	CreatedAt time.Time
}

// MatchesIdentifier reports whether the given legacy identifier refers to
// this table, either by QR code or by display name.
func (t *Table) MatchesIdentifier(identifier string) bool {
	return t.QRCode.String() == identifier || t.Name == identifier
}
