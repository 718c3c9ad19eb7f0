package postgres

import (
	"context"
	"encoding/json"

	"qr-dine/internal/domain/notifications"
	"qr-dine/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationsRepo implements persistence for vendor notifications.
type NotificationsRepo struct {
	pool *pgxpool.Pool
}

var _ ports.NotificationStore = (*NotificationsRepo)(nil)

// NewNotificationsRepo constructs a new NotificationsRepo.
func NewNotificationsRepo(pool *pgxpool.Pool) *NotificationsRepo {
	return &NotificationsRepo{pool: pool}
}

// Create inserts the notification and fills in its id and creation time.
func (r *NotificationsRepo) Create(ctx context.Context, n *notifications.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO notifications (vendor_id, type, title, message, data, read)
		VALUES ($1, $2, $3, $4, $5, false)
		RETURNING id, created_at
	`, n.VendorID, n.Type, n.Title, n.Message, data).Scan(&n.ID, &n.CreatedAt)
}

// MarkRead marks the notification read, scoped to the owning vendor. It
// returns true when the notification exists for that vendor, whether or
// not it was already read.
func (r *NotificationsRepo) MarkRead(ctx context.Context, id, vendorID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read = true, read_at = now()
		WHERE id = $1 AND vendor_id = $2 AND read = false
	`, id, vendorID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Already read, or not this vendor's notification.
	var exists bool
	err = r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND vendor_id = $2)
	`, id, vendorID).Scan(&exists)
	return exists, err
}

// ListForVendor returns the vendor's notifications, newest first.
func (r *NotificationsRepo) ListForVendor(ctx context.Context, vendorID int64, limit int) ([]notifications.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, vendor_id, type, title, message, data, read, created_at, read_at
		FROM notifications
		WHERE vendor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, vendorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notifications.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountUnread returns how many unread notifications the vendor has.
func (r *NotificationsRepo) CountUnread(ctx context.Context, vendorID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE vendor_id = $1 AND read = false
	`, vendorID).Scan(&count)
	return count, err
}

func scanNotification(rows pgx.Rows) (notifications.Notification, error) {
	var n notifications.Notification
	var data []byte
	if err := rows.Scan(&n.ID, &n.VendorID, &n.Type, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt, &n.ReadAt); err != nil {
		return n, err
	}
	if len(data) > 0 {
		// malformed stored data degrades to an empty map rather than
		// failing the listing
		_ = json.Unmarshal(data, &n.Data)
	}
	return n, nil
}
