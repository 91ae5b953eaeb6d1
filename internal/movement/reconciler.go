// Package movement posts inventory movements to Stock and
// mirrors issued materials into the local catalog.
package movement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/metrics"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/timeutil"
)

// idempotencyNamespace seeds the name-based UUIDs used as
// Idempotency-Key values.
var idempotencyNamespace = uuid.MustParse(
	"9c4f3f7e-2d1b-5a8e-b6c0-4e7a1d3f9b25",
)

// IdempotencyKey derives the key for an issue against a
// production order. Retrying the same order yields the same key.
func IdempotencyKey(productionID, orderNumber string) string {
	return uuid.NewSHA1(
		idempotencyNamespace,
		[]byte(productionID+"\x00"+orderNumber),
	).String()
}

// Reconciler posts movements and mirrors issues locally.
type Reconciler struct {
	db       *db.DB
	resolver *stock.Resolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconciler creates a Reconciler. m may be nil.
func NewReconciler(
	database *db.DB, resolver *stock.Resolver, m *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		db:       database,
		resolver: resolver,
		metrics:  m,
		now:      time.Now,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(
		"%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...),
	)
}

// issueLine is a validated material merged with any duplicate
// lines naming the same SKU. matched is false when no single
// local row carries its stock.
type issueLine struct {
	Material
	target  db.StockTarget
	matched bool
}

func validateIssue(req IssueRequest) ([]issueLine, error) {
	if strings.TrimSpace(req.ProductionID) == "" {
		return nil, invalid("production id is required")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return nil, invalid("order number is required")
	}
	if len(req.Materials) == 0 {
		return nil, invalid("at least one material is required")
	}

	var lines []issueLine
	index := make(map[db.StockTarget]int)
	for i, m := range req.Materials {
		m.ProductSKU = strings.TrimSpace(m.ProductSKU)
		m.VariantSKU = strings.TrimSpace(m.VariantSKU)
		if m.ProductSKU == "" {
			return nil, invalid("material %d: product sku is required", i+1)
		}
		if !m.Quantity.IsPositive() {
			return nil, invalid(
				"material %d (%s): quantity must be positive",
				i+1, m.remoteSKU(),
			)
		}
		if m.UnitCost.IsNegative() {
			return nil, invalid(
				"material %d (%s): unit cost is negative",
				i+1, m.remoteSKU(),
			)
		}
		key := db.StockTarget{
			ProductSKU: m.ProductSKU, VariantSKU: m.VariantSKU,
		}
		if j, ok := index[key]; ok {
			lines[j].Quantity = lines[j].Quantity.Add(m.Quantity)
			lines[j].UnitCost = m.UnitCost
			continue
		}
		index[key] = len(lines)
		lines = append(lines, issueLine{Material: m})
	}
	return lines, nil
}

// IssueMaterials posts an ISSUE movement and, once Stock has
// accepted it, records usage for every line and lowers the
// cached stock of matching local rows by the rounded-up
// quantity. Lines with no local match are recorded but not
// deducted. Nothing local changes when the post fails. A retry
// for the same production and order deducts only what was not
// deducted before.
func (r *Reconciler) IssueMaterials(
	ctx context.Context, req IssueRequest,
) (IssueResult, error) {
	lines, err := validateIssue(req)
	if err != nil {
		return IssueResult{}, err
	}
	if err := r.matchLocal(ctx, lines); err != nil {
		return IssueResult{}, err
	}

	client, err := r.resolver.Client(ctx)
	if err != nil {
		return IssueResult{}, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = IdempotencyKey(req.ProductionID, req.OrderNumber)
	}
	in := stock.MovementInput{
		Type:           stock.MovementIssue,
		RefNo:          req.OrderNumber,
		Note:           req.Note,
		IdempotencyKey: key,
	}
	for _, l := range lines {
		in.Lines = append(in.Lines, stock.MovementLine{
			SKU:          l.remoteSKU(),
			FromLocation: req.FromLocation,
			Qty:          l.Quantity,
			UnitCost:     l.UnitCost,
			Note:         l.Note,
		})
	}

	doc, err := client.CreateMovement(ctx, in)
	r.metrics.MovementPosted(string(stock.MovementIssue), err == nil)
	if err != nil {
		return IssueResult{}, fmt.Errorf(
			"posting issue for order %s: %w", req.OrderNumber, err,
		)
	}

	if err := r.mirrorIssue(ctx, req, lines, doc.DocNumber); err != nil {
		r.metrics.ReconcileFailed()
		log.Printf(
			"movement: RECONCILE doc=%s order=%s production=%s: "+
				"local mirroring failed: %v",
			doc.DocNumber, req.OrderNumber, req.ProductionID, err,
		)
		return IssueResult{}, &ReconcileError{
			DocNumber:    doc.DocNumber,
			OrderNumber:  req.OrderNumber,
			ProductionID: req.ProductionID,
			Err:          err,
		}
	}

	log.Printf(
		"movement: issued %d material(s) for order %s as %s",
		len(lines), req.OrderNumber, doc.DocNumber,
	)
	return IssueResult{
		MovementDocNumber: doc.DocNumber,
		MaterialsIssued:   len(lines),
		IdempotencyKey:    key,
	}, nil
}

// matchLocal resolves the local stock row of each line. SKUs
// the catalog does not hold, and products tracked per variant
// issued without a variant, stay unmatched.
func (r *Reconciler) matchLocal(
	ctx context.Context, lines []issueLine,
) error {
	for i := range lines {
		target, err := r.db.ResolveStockTarget(
			ctx, lines[i].ProductSKU, lines[i].VariantSKU,
		)
		switch {
		case errors.Is(err, db.ErrUnknownSKU),
			errors.Is(err, db.ErrAmbiguousSKU):
			log.Printf(
				"movement: %s has no local stock row, "+
					"usage recorded without deduction: %v",
				lines[i].remoteSKU(), err,
			)
			continue
		case err != nil:
			return fmt.Errorf(
				"resolving %s: %w", lines[i].remoteSKU(), err,
			)
		}
		lines[i].target = target
		lines[i].matched = true
	}
	return nil
}

// ceilUnits rounds a quantity up to whole stock units.
func ceilUnits(q decimal.Decimal) int64 {
	return q.Ceil().IntPart()
}

func (r *Reconciler) mirrorIssue(
	ctx context.Context, req IssueRequest,
	lines []issueLine, docNumber string,
) error {
	now := timeutil.Format(r.now())
	return r.db.Update(func(tx *sql.Tx) error {
		for _, l := range lines {
			prev, _, err := db.UpsertMaterialUsageTx(ctx, tx, db.MaterialUsage{
				ProductionID:     req.ProductionID,
				OrderNumber:      req.OrderNumber,
				ProductSKU:       l.ProductSKU,
				VariantSKU:       l.VariantSKU,
				Quantity:         l.Quantity,
				UnitCost:         l.UnitCost,
				StockMovementRef: docNumber,
				DeductedAt:       now,
			})
			if err != nil {
				return err
			}
			if !l.matched {
				continue
			}
			delta := ceilUnits(l.Quantity) - ceilUnits(prev)
			if delta <= 0 {
				continue
			}
			if err := db.DecrementStockTx(
				ctx, tx, l.target, int(delta),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func validateReceive(req ReceiveRequest) error {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return invalid("order number is required")
	}
	if len(req.Items) == 0 {
		return invalid("at least one item is required")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.SKU) == "" {
			return invalid("item %d: sku is required", i+1)
		}
		if !it.Quantity.IsPositive() {
			return invalid(
				"item %d (%s): quantity must be positive", i+1, it.SKU,
			)
		}
		if it.UnitCost.IsNegative() {
			return invalid(
				"item %d (%s): unit cost is negative", i+1, it.SKU,
			)
		}
	}
	return nil
}

// ReceiveFinished posts a RECEIVE movement. Local stock is left
// for the next catalog sync to pick up.
func (r *Reconciler) ReceiveFinished(
	ctx context.Context, req ReceiveRequest,
) (ReceiveResult, error) {
	if err := validateReceive(req); err != nil {
		return ReceiveResult{}, err
	}
	client, err := r.resolver.Client(ctx)
	if err != nil {
		return ReceiveResult{}, err
	}

	in := stock.MovementInput{
		Type:           stock.MovementReceive,
		RefNo:          req.OrderNumber,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, it := range req.Items {
		in.Lines = append(in.Lines, stock.MovementLine{
			SKU:        strings.TrimSpace(it.SKU),
			ToLocation: req.ToLocation,
			Qty:        it.Quantity,
			UnitCost:   it.UnitCost,
			Note:       it.Note,
		})
	}

	doc, err := client.CreateMovement(ctx, in)
	r.metrics.MovementPosted(string(stock.MovementReceive), err == nil)
	if err != nil {
		return ReceiveResult{}, fmt.Errorf(
			"posting receipt for order %s: %w", req.OrderNumber, err,
		)
	}
	log.Printf(
		"movement: received %d item(s) for order %s as %s",
		len(req.Items), req.OrderNumber, doc.DocNumber,
	)
	return ReceiveResult{
		MovementDocNumber: doc.DocNumber,
		ItemsReceived:     len(req.Items),
	}, nil
}
