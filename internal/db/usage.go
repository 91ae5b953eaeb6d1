package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaterialUsage is a ledger row recording stock consumed by a
// production run for one order. StockMovementRef is the remote
// movement's document number.
type MaterialUsage struct {
	ID               int64           `json:"id"`
	ProductionID     string          `json:"production_id"`
	OrderNumber      string          `json:"order_number"`
	ProductSKU       string          `json:"product_sku"`
	VariantSKU       string          `json:"variant_sku,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	StockMovementRef string          `json:"stock_movement_ref"`
	DeductedAt       string          `json:"deducted_at"`
}

const usageBaseCols = `id, production_id, order_number,
	product_sku, variant_sku,
	quantity, unit_cost, stock_movement_ref, deducted_at`

func scanUsageRow(rs rowScanner) (MaterialUsage, error) {
	var u MaterialUsage
	err := rs.Scan(
		&u.ID, &u.ProductionID, &u.OrderNumber,
		&u.ProductSKU, &u.VariantSKU,
		&u.Quantity, &u.UnitCost, &u.StockMovementRef,
		&u.DeductedAt,
	)
	return u, err
}

// UpsertMaterialUsageTx records usage keyed by
// (production_id, order_number, product_sku, variant_sku), so a
// retried issue lands on its own row while a new order gets a
// row of its own. When a row already exists its previous
// quantity is returned with existed=true so the caller can
// deduct only the difference.
func UpsertMaterialUsageTx(
	ctx context.Context, tx *sql.Tx, u MaterialUsage,
) (prev decimal.Decimal, existed bool, err error) {
	row := tx.QueryRowContext(ctx, `
		SELECT quantity FROM material_usage
		WHERE production_id = ? AND order_number = ?
		  AND product_sku = ? AND variant_sku = ?`,
		u.ProductionID, u.OrderNumber, u.ProductSKU, u.VariantSKU,
	)
	switch scanErr := row.Scan(&prev); scanErr {
	case nil:
		existed = true
	case sql.ErrNoRows:
	default:
		return decimal.Zero, false, fmt.Errorf(
			"reading usage %s/%s/%s: %w",
			u.ProductionID, u.OrderNumber, u.ProductSKU, scanErr,
		)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO material_usage (
			production_id, order_number, product_sku, variant_sku,
			quantity, unit_cost, stock_movement_ref, deducted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(production_id, order_number, product_sku, variant_sku)
		DO UPDATE SET
			quantity = excluded.quantity,
			unit_cost = excluded.unit_cost,
			stock_movement_ref = excluded.stock_movement_ref,
			deducted_at = excluded.deducted_at`,
		u.ProductionID, u.OrderNumber, u.ProductSKU, u.VariantSKU,
		u.Quantity.String(), u.UnitCost.String(),
		u.StockMovementRef, u.DeductedAt,
	)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf(
			"writing usage %s/%s/%s: %w",
			u.ProductionID, u.OrderNumber, u.ProductSKU, err,
		)
	}
	return prev, existed, nil
}

// ListMaterialUsage returns ledger rows for a production run,
// or every row when productionID is empty.
func (db *DB) ListMaterialUsage(
	ctx context.Context, productionID string,
) ([]MaterialUsage, error) {
	query := "SELECT " + usageBaseCols + " FROM material_usage"
	var args []any
	if productionID != "" {
		query += " WHERE production_id = ?"
		args = append(args, productionID)
	}
	query += " ORDER BY id"

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying material usage: %w", err)
	}
	defer rows.Close()

	usage := []MaterialUsage{}
	for rows.Next() {
		u, err := scanUsageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning material usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
