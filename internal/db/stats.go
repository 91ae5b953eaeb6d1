package db

import (
	"context"
	"fmt"
)

// Stats holds catalog-wide counts.
type Stats struct {
	ProductCount  int `json:"product_count"`
	StockProducts int `json:"stock_products"`
	LocalProducts int `json:"local_products"`
	VariantCount  int `json:"variant_count"`
	UnitsInStock  int `json:"units_in_stock"`
	UsageCount    int `json:"usage_count"`
}

// GetStats returns catalog statistics in a single query.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM products WHERE source = 'STOCK'),
			(SELECT COUNT(*) FROM products WHERE source = 'LOCAL'),
			(SELECT COUNT(*) FROM variants),
			(SELECT COALESCE(SUM(total_stock), 0) FROM products),
			(SELECT COUNT(*) FROM material_usage)`

	var s Stats
	err := db.reader.QueryRowContext(ctx, query).Scan(
		&s.ProductCount,
		&s.StockProducts,
		&s.LocalProducts,
		&s.VariantCount,
		&s.UnitsInStock,
		&s.UsageCount,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return s, nil
}

// SyncStatus is the singleton summary of the last successful
// sync page or stock-level run.
type SyncStatus struct {
	LastSyncAt         *string `json:"last_sync_at"`
	TotalStockProducts int     `json:"total_stock_products"`
	TotalLocalProducts int     `json:"total_local_products"`
	TotalProducts      int     `json:"total_products"`
}

// GetSyncStatus returns the persisted sync status.
func (db *DB) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	var s SyncStatus
	err := db.reader.QueryRowContext(ctx, `
		SELECT last_sync_at, total_stock_products,
			total_local_products, total_products
		FROM sync_status WHERE id = 1`,
	).Scan(
		&s.LastSyncAt, &s.TotalStockProducts,
		&s.TotalLocalProducts, &s.TotalProducts,
	)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("reading sync status: %w", err)
	}
	return s, nil
}

// RefreshSyncStatus stamps lastSyncAt and recounts products in
// one statement, so readers never see a half-updated row.
func (db *DB) RefreshSyncStatus(
	ctx context.Context, lastSyncAt string,
) (SyncStatus, error) {
	db.mu.Lock()
	_, err := db.writer.ExecContext(ctx, `
		INSERT INTO sync_status (
			id, last_sync_at, total_stock_products,
			total_local_products, total_products
		)
		SELECT 1, ?,
			(SELECT COUNT(*) FROM products WHERE source = 'STOCK'),
			(SELECT COUNT(*) FROM products WHERE source = 'LOCAL'),
			(SELECT COUNT(*) FROM products)
		WHERE true
		ON CONFLICT(id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			total_stock_products = excluded.total_stock_products,
			total_local_products = excluded.total_local_products,
			total_products = excluded.total_products`,
		lastSyncAt,
	)
	db.mu.Unlock()
	if err != nil {
		return SyncStatus{}, fmt.Errorf("refreshing sync status: %w", err)
	}
	return db.GetSyncStatus(ctx)
}
