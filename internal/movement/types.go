package movement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidRequest marks a request rejected before any remote
// call.
var ErrInvalidRequest = errors.New("invalid movement request")

// ErrReconcile marks a movement that Stock accepted but whose
// local mirroring failed.
var ErrReconcile = errors.New("movement posted but not mirrored locally")

// ReconcileError carries the remote document number of a
// movement that needs manual reconciliation.
type ReconcileError struct {
	DocNumber    string
	OrderNumber  string
	ProductionID string
	Err          error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf(
		"%v: doc %s (order %s): %v",
		ErrReconcile, e.DocNumber, e.OrderNumber, e.Err,
	)
}

// Unwrap exposes both the sentinel and the local failure.
func (e *ReconcileError) Unwrap() []error {
	return []error{ErrReconcile, e.Err}
}

// Material is one raw material consumed by a production run.
type Material struct {
	ProductSKU string          `json:"product_sku"`
	VariantSKU string          `json:"variant_sku,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Note       string          `json:"note,omitempty"`
}

// remoteSKU is the SKU Stock knows the material by.
func (m Material) remoteSKU() string {
	if m.VariantSKU != "" {
		return m.VariantSKU
	}
	return m.ProductSKU
}

// IssueRequest issues materials from a location against a
// production order.
type IssueRequest struct {
	ProductionID   string     `json:"production_id"`
	OrderNumber    string     `json:"order_number"`
	Materials      []Material `json:"materials"`
	FromLocation   string     `json:"from_location"`
	Note           string     `json:"note,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// IssueResult reports a posted issue.
type IssueResult struct {
	MovementDocNumber string `json:"movement_doc_number"`
	MaterialsIssued   int    `json:"materials_issued"`
	IdempotencyKey    string `json:"idempotency_key"`
}

// FinishedItem is one finished good received into stock.
type FinishedItem struct {
	SKU      string          `json:"sku"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Note     string          `json:"note,omitempty"`
}

// ReceiveRequest receives finished goods into a location.
type ReceiveRequest struct {
	OrderNumber    string         `json:"order_number"`
	Items          []FinishedItem `json:"items"`
	ToLocation     string         `json:"to_location"`
	Note           string         `json:"note,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ReceiveResult reports a posted receipt.
type ReceiveResult struct {
	MovementDocNumber string `json:"movement_doc_number"`
	ItemsReceived     int    `json:"items_received"`
}
