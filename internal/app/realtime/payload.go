package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"qr-dine/internal/domain/orders"
	"qr-dine/internal/ports"
	"qr-dine/internal/shared/contracts"
	"qr-dine/internal/shared/logger"

	"github.com/jackc/pgx/v5"
)

// Placeholders used when a referenced entity no longer exists. Line items
// keep their snapshotted price and quantity regardless.
const (
	DeletedItemName  = "Deleted Item"
	UnknownTableName = "Unknown Table"
)

// BuildOrderEvent converts an order aggregate into its wire-ready event.
// It never fails: every optional attribute degrades to its documented
// default (nil stays null on the wire, missing names become placeholders),
// because a normalization failure must not block order processing.
func BuildOrderEvent(order *orders.Order, tableName string) contracts.OrderEvent {
	items := make([]contracts.OrderEventItem, 0, len(order.Items))
	for i := range order.Items {
		it := &order.Items[i]
		name := DeletedItemName
		if it.MenuItemName != nil && *it.MenuItemName != "" {
			name = *it.MenuItemName
		}
		items = append(items, contracts.OrderEventItem{
			Name:     name,
			Quantity: it.Quantity,
			Price:    it.Price.String(),
		})
	}

	var tableID *string
	if order.TableID != nil {
		s := strconv.FormatInt(*order.TableID, 10)
		tableID = &s
	}

	return contracts.OrderEvent{
		ID:              strconv.FormatInt(order.ID, 10),
		Status:          string(order.Status),
		VendorID:        strconv.FormatInt(order.VendorID, 10),
		TableID:         tableID,
		TableIdentifier: order.TableIdentifier,
		TableName:       tableName,
		Items:           items,
		TotalAmount:     order.TotalAmount.String(),
		Message:         fmt.Sprintf("Order %d status is now %s", order.ID, order.Status),
		CreatedAt:       order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       order.UpdatedAt.UTC().Format(time.RFC3339),
		ServerTimestamp: time.Now().UTC().Format(time.RFC3339Nano),

		CustomerVerified:      order.CustomerVerified,
		VerificationTimestamp: isoOrNil(order.VerificationTimestamp),

		DeliveryIssueReported:    order.DeliveryIssueReported,
		IssueReportTimestamp:     isoOrNil(order.IssueReportTimestamp),
		IssueDescription:         order.IssueDescription,
		IssueResolved:            order.IssueResolved,
		IssueResolutionTimestamp: isoOrNil(order.IssueResolutionTimestamp),
		ResolutionMessage:        order.ResolutionMessage,
	}
}

func isoOrNil(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// TableNameResolver renders the display name of an order's table. Vendors
// rename tables and regenerate QR identifiers after orders are created, so
// every place a table name is shown (order list, detail, tracking) must go
// through the same precedence:
//
//  1. structured table reference still live -> current name, re-linking the
//     order's recorded identifier if it drifted
//  2. structured reference present but table deleted -> deleted-table
//     placeholder retaining the last known name
//  3. legacy identifier matches a current table -> that table's name,
//     re-linking the order to it
//  4. legacy identifier matches nothing -> the raw identifier marked stale
//  5. otherwise -> "Unknown Table"
//
// Resolution never fails: storage errors degrade to the next step.
type TableNameResolver struct {
	orders ports.OrderStore
	tables ports.TableStore
	logger *logger.Logger
}

func NewTableNameResolver(orderStore ports.OrderStore, tableStore ports.TableStore, log *logger.Logger) *TableNameResolver {
	return &TableNameResolver{orders: orderStore, tables: tableStore, logger: log}
}

// Resolve returns the display name for the order's table.
func (r *TableNameResolver) Resolve(ctx context.Context, order *orders.Order) string {
	if order.TableID != nil {
		table, err := r.tables.GetTable(ctx, *order.TableID)
		switch {
		case err == nil:
			r.relinkIfDrifted(ctx, order, table)
			return table.Name
		case errors.Is(err, pgx.ErrNoRows):
			return r.deletedTableName(order)
		default:
			r.logger.Error(ctx, "table_lookup_failed", "Failed to load table for order", err)
			// fall through to the legacy identifier
		}
	}

	if order.TableIdentifier != nil && *order.TableIdentifier != "" {
		table, err := r.tables.FindTableByIdentifier(ctx, order.VendorID, *order.TableIdentifier)
		switch {
		case err == nil:
			r.relink(ctx, order, table)
			return table.Name
		case errors.Is(err, pgx.ErrNoRows):
			return *order.TableIdentifier + " (stale)"
		default:
			r.logger.Error(ctx, "table_lookup_failed", "Failed to match legacy table identifier", err)
			return *order.TableIdentifier + " (stale)"
		}
	}

	return UnknownTableName
}

// deletedTableName renders case 2: the structured reference existed but
// the table row is gone.
func (r *TableNameResolver) deletedTableName(order *orders.Order) string {
	if order.TableName != nil && *order.TableName != "" {
		return *order.TableName + " (deleted)"
	}
	return "Deleted Table"
}

// relinkIfDrifted persists a repaired identifier when the order's recorded
// one no longer refers to the current table (QR regenerated or renamed).
func (r *TableNameResolver) relinkIfDrifted(ctx context.Context, order *orders.Order, table *orders.Table) {
	if order.TableIdentifier != nil && table.MatchesIdentifier(*order.TableIdentifier) {
		return
	}
	r.relink(ctx, order, table)
}

// relink points the stored order at the resolved table. The repair is
// opportunistic: failure is logged and the resolved name is used anyway.
// The in-memory order keeps its original identifier because topics derived
// from it must keep matching sessions that subscribed with it.
func (r *TableNameResolver) relink(ctx context.Context, order *orders.Order, table *orders.Table) {
	if err := r.orders.UpdateTableLink(ctx, order.ID, table.ID, table.QRCode.String()); err != nil {
		r.logger.Error(ctx, "table_relink_failed", "Failed to re-link order to table", err)
		return
	}
	r.logger.Debug(ctx, "table_relinked", "Order re-linked to current table", map[string]any{
		"order_id": order.ID,
		"table_id": table.ID,
	})
}
