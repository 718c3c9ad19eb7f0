package postgres

import (
	"context"

	"qr-dine/internal/domain/orders"
	"qr-dine/internal/ports"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OrdersRepo implements the read-mostly order surface using pgx and SQL.
// The fanout core never mutates order state except to repair table links.
type OrdersRepo struct {
	pool *pgxpool.Pool
}

var _ ports.OrderStore = (*OrdersRepo)(nil)

// NewOrdersRepo constructs a new OrdersRepo.
func NewOrdersRepo(pool *pgxpool.Pool) *OrdersRepo {
	return &OrdersRepo{pool: pool}
}

// GetOrder retrieves the full order aggregate: header plus line items with
// the current menu-item name left-joined in (NULL when the item was
// deleted; the snapshotted price and quantity stay on the line item row).
func (r *OrdersRepo) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var order orders.Order
	// total_amount is NUMERIC(10,2) in DB; we read integer cents.
	err := r.pool.QueryRow(ctx, `
		SELECT id, vendor_id, table_id, table_identifier, table_name,
		       status, payment_status, customer_name,
		       (total_amount * 100)::bigint,
		       created_at, updated_at,
		       customer_verified, verification_timestamp,
		       delivery_issue_reported, issue_report_timestamp, issue_description,
		       issue_resolved, issue_resolution_timestamp, resolution_message
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.VendorID, &order.TableID, &order.TableIdentifier, &order.TableName,
		&order.Status, &order.PaymentStatus, &order.CustomerName,
		&order.TotalAmount,
		&order.CreatedAt, &order.UpdatedAt,
		&order.CustomerVerified, &order.VerificationTimestamp,
		&order.DeliveryIssueReported, &order.IssueReportTimestamp, &order.IssueDescription,
		&order.IssueResolved, &order.IssueResolutionTimestamp, &order.ResolutionMessage,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT oi.id, oi.order_id, mi.name, oi.quantity, (oi.price * 100)::bigint
		FROM order_items oi
		LEFT JOIN menu_items mi ON mi.id = oi.menu_item_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item orders.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// ListOrderIDsForTable returns every order recorded against the table
// identifier, newest first. Table sessions join each of these order topics
// at connect so in-flight orders keep streaming updates.
func (r *OrdersRepo) ListOrderIDsForTable(ctx context.Context, vendorID int64, tableIdentifier string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE vendor_id = $1 AND table_identifier = $2
		ORDER BY created_at DESC
	`, vendorID, tableIdentifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveOrdersForTable returns the in-flight order aggregates for one
// table, newest first.
func (r *OrdersRepo) ListActiveOrdersForTable(ctx context.Context, vendorID int64, tableIdentifier string) ([]orders.Order, error) {
	statuses := make([]string, 0, len(orders.ActiveStatuses))
	for _, s := range orders.ActiveStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE vendor_id = $1 AND table_identifier = $2 AND status = ANY($3)
		ORDER BY created_at DESC
	`, vendorID, tableIdentifier, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		order, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, nil
}

// UpdateTableLink re-points an order at a table. Deliberately does not
// touch updated_at: a link repair is not an order-state change and must
// not masquerade as one on the event stream.
func (r *OrdersRepo) UpdateTableLink(ctx context.Context, orderID, tableID int64, identifier string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET table_id = $2, table_identifier = $3
		WHERE id = $1
	`, orderID, tableID, identifier)
	return err
}
