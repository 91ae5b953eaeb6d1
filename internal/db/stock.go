package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownSKU is returned when a stock operation names a sku
// the local catalog does not hold.
var ErrUnknownSKU = errors.New("unknown sku")

// ErrAmbiguousSKU is returned when a product-level stock
// operation targets a product that tracks stock per variant.
var ErrAmbiguousSKU = errors.New("product stock is tracked per variant")

// ErrLocallyManaged is returned when a sync would write onto a
// row that belongs to a LOCAL product.
var ErrLocallyManaged = errors.New("locally managed")

// ErrVariantNotFound is returned when a variant operation names a
// product/variant pair the local catalog does not hold.
var ErrVariantNotFound = errors.New("variant not found")

// StockTarget identifies the row whose cached stock a
// movement or stock-level update mutates.
type StockTarget struct {
	ProductSKU string
	VariantSKU string // "" when the product has no variants
}

func variantCount(
	ctx context.Context, q queryer, productSKU string,
) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM variants WHERE product_sku = ?",
		productSKU,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf(
			"counting variants of %s: %w", productSKU, err,
		)
	}
	return n, nil
}

// ResolveStockTarget checks that a (product, variant) pair can
// carry a cached stock count. variantSKU may be empty only for
// products without variants.
func (db *DB) ResolveStockTarget(
	ctx context.Context, productSKU, variantSKU string,
) (StockTarget, error) {
	var exists int
	if err := db.reader.QueryRowContext(ctx,
		"SELECT count(*) FROM products WHERE sku = ?", productSKU,
	).Scan(&exists); err != nil {
		return StockTarget{}, fmt.Errorf(
			"looking up %s: %w", productSKU, err,
		)
	}
	if exists == 0 {
		return StockTarget{}, fmt.Errorf(
			"%w: %s", ErrUnknownSKU, productSKU,
		)
	}

	if variantSKU == "" {
		n, err := variantCount(ctx, db.reader, productSKU)
		if err != nil {
			return StockTarget{}, err
		}
		if n > 0 {
			return StockTarget{}, fmt.Errorf(
				"%w: %s", ErrAmbiguousSKU, productSKU,
			)
		}
		return StockTarget{ProductSKU: productSKU}, nil
	}

	if err := db.reader.QueryRowContext(ctx,
		`SELECT count(*) FROM variants
		 WHERE product_sku = ? AND variant_sku = ?`,
		productSKU, variantSKU,
	).Scan(&exists); err != nil {
		return StockTarget{}, fmt.Errorf(
			"looking up %s/%s: %w", productSKU, variantSKU, err,
		)
	}
	if exists == 0 {
		return StockTarget{}, fmt.Errorf(
			"%w: %s/%s", ErrUnknownSKU, productSKU, variantSKU,
		)
	}
	return StockTarget{
		ProductSKU: productSKU, VariantSKU: variantSKU,
	}, nil
}

// SetStockBySKUTx writes a remote stock level onto every
// variant whose variant_sku matches, or onto a variant-less
// product whose sku matches. Only stock and total_stock are
// touched, and rows under a LOCAL product are left alone.
// Returns the product skus that changed.
func SetStockBySKUTx(
	ctx context.Context, tx *sql.Tx, sku string, stock int,
) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT v.product_sku, p.source
		FROM variants v JOIN products p ON p.sku = v.product_sku
		WHERE v.variant_sku = ?
		ORDER BY v.product_sku`,
		sku,
	)
	if err != nil {
		return nil, fmt.Errorf("finding variant %s: %w", sku, err)
	}
	var parents []string
	localOnly := false
	for rows.Next() {
		var p string
		var src Source
		if err := rows.Scan(&p, &src); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning variant parent: %w", err)
		}
		if src == SourceLocal {
			localOnly = true
			continue
		}
		parents = append(parents, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(parents) > 0 {
		for _, p := range parents {
			if _, err := tx.ExecContext(ctx, `
				UPDATE variants SET stock = ?,
					updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
				WHERE product_sku = ? AND variant_sku = ?`,
				stock, p, sku,
			); err != nil {
				return nil, fmt.Errorf(
					"setting stock of variant %s/%s: %w", p, sku, err,
				)
			}
			if _, err := RecomputeTotalStockTx(ctx, tx, p); err != nil {
				return nil, err
			}
		}
		return parents, nil
	}
	if localOnly {
		return nil, fmt.Errorf("%w: %s", ErrLocallyManaged, sku)
	}

	var src Source
	err = tx.QueryRowContext(ctx,
		"SELECT source FROM products WHERE sku = ?", sku,
	).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
	}
	if err != nil {
		return nil, fmt.Errorf("reading product %s: %w", sku, err)
	}
	if src == SourceLocal {
		return nil, fmt.Errorf("%w: %s", ErrLocallyManaged, sku)
	}

	n, err := variantCount(ctx, tx, sku)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousSKU, sku)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET total_stock = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE sku = ?`,
		stock, sku,
	); err != nil {
		return nil, fmt.Errorf(
			"setting stock of product %s: %w", sku, err,
		)
	}
	return []string{sku}, nil
}

// DecrementStockTx lowers the cached stock of target by qty,
// clamping at zero, and keeps the parent total in step.
func DecrementStockTx(
	ctx context.Context, tx *sql.Tx, target StockTarget, qty int,
) error {
	if qty <= 0 {
		return nil
	}
	if target.VariantSKU == "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET
				total_stock = MAX(total_stock - ?, 0),
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			WHERE sku = ?`,
			qty, target.ProductSKU,
		)
		if err != nil {
			return fmt.Errorf(
				"decrementing %s: %w", target.ProductSKU, err,
			)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf(
				"%w: %s", ErrUnknownSKU, target.ProductSKU,
			)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE variants SET
			stock = MAX(stock - ?, 0),
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE product_sku = ? AND variant_sku = ?`,
		qty, target.ProductSKU, target.VariantSKU,
	)
	if err != nil {
		return fmt.Errorf(
			"decrementing %s/%s: %w",
			target.ProductSKU, target.VariantSKU, err,
		)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf(
			"%w: %s/%s", ErrUnknownSKU,
			target.ProductSKU, target.VariantSKU,
		)
	}
	_, err = RecomputeTotalStockTx(ctx, tx, target.ProductSKU)
	return err
}
