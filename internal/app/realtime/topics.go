package realtime

import (
	"errors"
	"strconv"
)

// Topic is a named fanout channel key in the broker. Topic strings are
// produced only by the constructors below so the publisher and subscriber
// sides can never diverge in formatting. Topics are derived on demand and
// never stored.
type Topic string

// ErrMissingVendor is returned when a topic set is requested without a
// vendor identity.
var ErrMissingVendor = errors.New("topics: vendor id is required")

// OrderTopic is joined by order-tracking sessions and by table sessions
// that discovered the order at connect time.
func OrderTopic(orderID int64) Topic {
	return Topic("order:" + strconv.FormatInt(orderID, 10))
}

// VendorTopic carries all activity for one vendor: the dashboard, observer
// sessions, and vendor-level customer updates.
func VendorTopic(vendorID int64) Topic {
	return Topic("vendor:" + strconv.FormatInt(vendorID, 10))
}

// TableTopic carries all orders at one physical table.
func TableTopic(vendorID int64, tableIdentifier string) Topic {
	return Topic("table:" + strconv.FormatInt(vendorID, 10) + ":" + tableIdentifier)
}

// LegacyTableTopic is the pre-rename shape of the table topic. A deployed
// population of customer pages still subscribes to it, so the publisher
// double-publishes table events until those clients cycle out.
// TODO: drop once the legacy menu page (the /menu/{vendor}/{tabel_no}
// route) is retired.
func LegacyTableTopic(vendorID int64, tableIdentifier string) Topic {
	return Topic("table-" + strconv.FormatInt(vendorID, 10) + "-" + tableIdentifier)
}

// TopicsForOrder resolves the canonical topic set for one order: the order
// topic, the vendor topic, and the table topic when the order has a table
// identifier. Deterministic, no I/O.
func TopicsForOrder(orderID, vendorID int64, tableIdentifier *string) ([]Topic, error) {
	if vendorID <= 0 {
		return nil, ErrMissingVendor
	}
	topics := []Topic{OrderTopic(orderID), VendorTopic(vendorID)}
	if tableIdentifier != nil && *tableIdentifier != "" {
		topics = append(topics, TableTopic(vendorID, *tableIdentifier))
	}
	return topics, nil
}

// TopicsForTable resolves the topics a table session joins before any
// order is known: the vendor topic and the table topic.
func TopicsForTable(vendorID int64, tableIdentifier string) ([]Topic, error) {
	if vendorID <= 0 {
		return nil, ErrMissingVendor
	}
	return []Topic{VendorTopic(vendorID), TableTopic(vendorID, tableIdentifier)}, nil
}
