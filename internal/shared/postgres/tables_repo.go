package postgres

import (
	"context"

	"qr-dine/internal/domain/orders"
	"qr-dine/internal/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TablesRepo implements table lookups using pgx and SQL.
type TablesRepo struct {
	pool *pgxpool.Pool
}

var _ ports.TableStore = (*TablesRepo)(nil)

// NewTablesRepo constructs a new TablesRepo.
func NewTablesRepo(pool *pgxpool.Pool) *TablesRepo {
	return &TablesRepo{pool: pool}
}

// GetTable retrieves a table by its primary key.
func (r *TablesRepo) GetTable(ctx context.Context, id int64) (*orders.Table, error) {
	return r.scanOne(ctx, `
		SELECT id, vendor_id, name, qr_code::text, is_active, created_at
		FROM tables
		WHERE id = $1
	`, id)
}

// FindTableByIdentifier matches a legacy identifier against the vendor's
// current tables, by QR code first and display name second. Used by the
// table-name resolver to repair orders whose structured link is missing.
func (r *TablesRepo) FindTableByIdentifier(ctx context.Context, vendorID int64, identifier string) (*orders.Table, error) {
	return r.scanOne(ctx, `
		SELECT id, vendor_id, name, qr_code::text, is_active, created_at
		FROM tables
		WHERE vendor_id = $1 AND (qr_code::text = $2 OR name = $2)
		ORDER BY (qr_code::text = $2) DESC
		LIMIT 1
	`, vendorID, identifier)
}

func (r *TablesRepo) scanOne(ctx context.Context, sql string, args ...any) (*orders.Table, error) {
	var table orders.Table
	var qr string
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&table.ID, &table.VendorID, &table.Name, &qr, &table.IsActive, &table.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	// qr_code predates the uuid column type in old rows; a parse failure
	// leaves the zero UUID rather than failing the lookup.
	table.QRCode, _ = uuid.Parse(qr)
	return &table, nil
}
