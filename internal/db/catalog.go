package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source records who last wrote a product row.
type Source string

const (
	// SourceStock rows are owned by catalog sync.
	SourceStock Source = "STOCK"
	// SourceLocal rows were created by hand and are never
	// overwritten by sync.
	SourceLocal Source = "LOCAL"
)

const (
	// DefaultProductLimit is the default number of products returned.
	DefaultProductLimit = 100
	// MaxProductLimit is the maximum number of products returned.
	MaxProductLimit = 500
)

// Product represents a row in the products table.
type Product struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ProductType     string          `json:"product_type"`
	BasePrice       decimal.Decimal `json:"base_price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	Unit            string          `json:"unit"`
	Category        string          `json:"category"`
	Source          Source          `json:"source"`
	TotalStock      int             `json:"total_stock"`
	RemoteUpdatedAt *string         `json:"remote_updated_at"`
	SyncedAt        *string         `json:"synced_at"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	Variants        []Variant       `json:"variants,omitempty"`
}

// Variant represents a row in the variants table.
type Variant struct {
	ProductSKU string          `json:"product_sku"`
	VariantSKU string          `json:"variant_sku"`
	Size       string          `json:"size"`
	Color      string          `json:"color"`
	Stock      int             `json:"stock"`
	PriceAdj   decimal.Decimal `json:"price_adj"`
	IsActive   bool            `json:"is_active"`
	LastSeenAt *string         `json:"last_seen_at"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// ProductFilter specifies how to query products.
type ProductFilter struct {
	Source   Source // "" = any
	Category string
	Search   string // substring of sku or name
	Limit    int
	Offset   int
}

const productBaseCols = `sku, name, description, product_type,
	base_price, cost_price, unit, category, source,
	total_stock, remote_updated_at, synced_at,
	created_at, updated_at`

const variantBaseCols = `product_sku, variant_sku, size, color,
	stock, price_adj, is_active, last_seen_at,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanProductRow(rs rowScanner) (Product, error) {
	var p Product
	err := rs.Scan(
		&p.SKU, &p.Name, &p.Description, &p.ProductType,
		&p.BasePrice, &p.CostPrice, &p.Unit, &p.Category,
		&p.Source, &p.TotalStock, &p.RemoteUpdatedAt,
		&p.SyncedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func scanVariantRow(rs rowScanner) (Variant, error) {
	var v Variant
	err := rs.Scan(
		&v.ProductSKU, &v.VariantSKU, &v.Size, &v.Color,
		&v.Stock, &v.PriceAdj, &v.IsActive, &v.LastSeenAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}

func getProduct(
	ctx context.Context, q queryer, sku string,
) (*Product, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+productBaseCols+" FROM products WHERE sku = ?",
		sku,
	)
	p, err := scanProductRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting product %s: %w", sku, err)
	}
	variants, err := listVariants(ctx, q, sku)
	if err != nil {
		return nil, err
	}
	p.Variants = variants
	return &p, nil
}

func listVariants(
	ctx context.Context, q queryer, productSKU string,
) ([]Variant, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+variantBaseCols+" FROM variants"+
			" WHERE product_sku = ? ORDER BY variant_sku",
		productSKU,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"querying variants of %s: %w", productSKU, err,
		)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		v, err := scanVariantRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// GetProduct returns a product with its variants.
// Returns nil, nil if not found.
func (db *DB) GetProduct(
	ctx context.Context, sku string,
) (*Product, error) {
	return getProduct(ctx, db.reader, sku)
}

// GetProductTx is GetProduct inside a write transaction, so
// the lookup sees rows written earlier in the same page.
func GetProductTx(
	ctx context.Context, tx *sql.Tx, sku string,
) (*Product, error) {
	return getProduct(ctx, tx, sku)
}

func buildProductFilter(f ProductFilter) (string, []any) {
	var preds []string
	var args []any

	if f.Source != "" {
		preds = append(preds, "source = ?")
		args = append(args, string(f.Source))
	}
	if f.Category != "" {
		preds = append(preds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		preds = append(preds,
			"(sku LIKE ? ESCAPE '\\' OR name LIKE ? ESCAPE '\\')")
		like := "%" + escapeLike(f.Search) + "%"
		args = append(args, like, like)
	}

	if len(preds) == 0 {
		return "1=1", nil
	}
	return strings.Join(preds, " AND "), args
}

// escapeLike escapes SQL LIKE metacharacters.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ListProducts returns products matching the filter ordered by
// sku. Variants are not attached.
func (db *DB) ListProducts(
	ctx context.Context, f ProductFilter,
) ([]Product, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultProductLimit
	}
	if f.Limit > MaxProductLimit {
		f.Limit = MaxProductLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := buildProductFilter(f)
	query := "SELECT " + productBaseCols +
		" FROM products WHERE " + where +
		" ORDER BY sku LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// InsertProductTx inserts a new product row. Variants are
// written separately with UpsertVariantTx.
func InsertProductTx(
	ctx context.Context, tx *sql.Tx, p Product,
) error {
	if p.Source == "" {
		p.Source = SourceLocal
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO products (
			sku, name, description, product_type,
			base_price, cost_price, unit, category,
			source, total_stock, remote_updated_at, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Description, p.ProductType,
		p.BasePrice.String(), p.CostPrice.String(),
		p.Unit, p.Category, string(p.Source), p.TotalStock,
		p.RemoteUpdatedAt, p.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting product %s: %w", p.SKU, err)
	}
	return nil
}

// UpdateSyncedProductTx overwrites the synced fields of an
// existing product and stamps it as STOCK-owned. total_stock is
// only written when setStock is true (products without
// variants); otherwise RecomputeTotalStockTx owns it.
func UpdateSyncedProductTx(
	ctx context.Context, tx *sql.Tx, p Product, setStock bool,
) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products SET
			name = ?,
			description = ?,
			product_type = ?,
			base_price = ?,
			cost_price = ?,
			unit = ?,
			category = ?,
			source = 'STOCK',
			total_stock = CASE WHEN ? THEN ? ELSE total_stock END,
			remote_updated_at = ?,
			synced_at = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE sku = ?`,
		p.Name, p.Description, p.ProductType,
		p.BasePrice.String(), p.CostPrice.String(),
		p.Unit, p.Category,
		setStock, p.TotalStock,
		p.RemoteUpdatedAt, p.SyncedAt,
		p.SKU,
	)
	if err != nil {
		return fmt.Errorf("updating product %s: %w", p.SKU, err)
	}
	return nil
}

// UpsertVariantTx inserts or updates a variant keyed by
// (product_sku, variant_sku). Reports whether a row was created.
// is_active is preserved on update so a locally suppressed
// variant stays suppressed.
func UpsertVariantTx(
	ctx context.Context, tx *sql.Tx, v Variant,
) (created bool, err error) {
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM variants
		 WHERE product_sku = ? AND variant_sku = ?`,
		v.ProductSKU, v.VariantSKU,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf(
			"checking variant %s/%s: %w",
			v.ProductSKU, v.VariantSKU, err,
		)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO variants (
			product_sku, variant_sku, size, color,
			stock, price_adj, is_active, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(product_sku, variant_sku) DO UPDATE SET
			size = excluded.size,
			color = excluded.color,
			stock = excluded.stock,
			price_adj = excluded.price_adj,
			last_seen_at = excluded.last_seen_at,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		v.ProductSKU, v.VariantSKU, v.Size, v.Color,
		v.Stock, v.PriceAdj.String(), v.LastSeenAt,
	)
	if err != nil {
		return false, fmt.Errorf(
			"upserting variant %s/%s: %w",
			v.ProductSKU, v.VariantSKU, err,
		)
	}
	return exists == 0, nil
}

// RecomputeTotalStockTx sets total_stock to the sum of active
// variant stock. Products without variants keep their own
// total_stock. Returns the resulting total.
func RecomputeTotalStockTx(
	ctx context.Context, tx *sql.Tx, sku string,
) (int, error) {
	_, err := tx.ExecContext(ctx, `
		UPDATE products SET total_stock = (
			SELECT COALESCE(SUM(stock), 0) FROM variants
			WHERE product_sku = products.sku AND is_active = 1
		)
		WHERE sku = ?
		  AND EXISTS (SELECT 1 FROM variants WHERE product_sku = ?)`,
		sku, sku,
	)
	if err != nil {
		return 0, fmt.Errorf(
			"recomputing total stock of %s: %w", sku, err,
		)
	}
	var total int
	err = tx.QueryRowContext(ctx,
		"SELECT total_stock FROM products WHERE sku = ?", sku,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf(
			"reading total stock of %s: %w", sku, err,
		)
	}
	return total, nil
}

// SetVariantActive toggles whether a variant counts toward its
// product's total stock and recomputes the total.
func (db *DB) SetVariantActive(
	ctx context.Context, productSKU, variantSKU string, active bool,
) error {
	return db.Update(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE variants SET is_active = ?,
			 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
			 WHERE product_sku = ? AND variant_sku = ?`,
			active, productSKU, variantSKU,
		)
		if err != nil {
			return fmt.Errorf(
				"updating variant %s/%s: %w",
				productSKU, variantSKU, err,
			)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf(
				"variant %s/%s: %w",
				productSKU, variantSKU, ErrVariantNotFound,
			)
		}
		_, err = RecomputeTotalStockTx(ctx, tx, productSKU)
		return err
	})
}

// CreateLocalProduct inserts a hand-made product with its
// variants. It fails if the sku already exists.
func (db *DB) CreateLocalProduct(
	ctx context.Context, p Product,
) error {
	p.Source = SourceLocal
	return db.Update(func(tx *sql.Tx) error {
		if err := InsertProductTx(ctx, tx, p); err != nil {
			return err
		}
		for _, v := range p.Variants {
			v.ProductSKU = p.SKU
			if _, err := UpsertVariantTx(ctx, tx, v); err != nil {
				return err
			}
		}
		_, err := RecomputeTotalStockTx(ctx, tx, p.SKU)
		return err
	})
}
