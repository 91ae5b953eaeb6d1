// Package stock is the client for the remote Stock inventory
// API and the resolver that builds it from stored settings.
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects between a full catalog fetch and an incremental
// fetch filtered by updatedAfter.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// ParseMode maps user input to a Mode. Empty means incremental.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, true
	case ModeFull:
		return ModeFull, true
	}
	return "", false
}

// MovementType is the kind of inventory movement posted.
type MovementType string

const (
	MovementIssue   MovementType = "ISSUE"
	MovementReceive MovementType = "RECEIVE"
)

// RemoteProduct is one catalog entry as reported by Stock.
// Stock is only meaningful for products without variants.
type RemoteProduct struct {
	SKU         string
	Name        string
	Description string
	ProductType string
	BasePrice   decimal.Decimal
	CostPrice   decimal.Decimal
	Unit        string
	Category    string
	Stock       int
	UpdatedAt   time.Time
	Variants    []RemoteVariant
}

// RemoteVariant is a size/color variant of a RemoteProduct.
type RemoteVariant struct {
	SKU      string
	Size     string
	Color    string
	Stock    int
	PriceAdj decimal.Decimal
}

// ProductResult is one item of a page: either a decoded product
// or the reason it could not be decoded.
type ProductResult struct {
	Index   int
	SKU     string // best effort, may be empty when Err is set
	Name    string // best effort, may be empty when Err is set
	Product RemoteProduct
	Err     error
}

// ProductPage is one page of the remote product listing.
type ProductPage struct {
	Items      []ProductResult
	Page       int
	TotalPages int
	TotalCount int
}

// ListOptions selects a page of the remote product listing.
type ListOptions struct {
	Page         int
	PageSize     int
	Mode         Mode
	UpdatedAfter time.Time
}

// StockLevel is one entry of the stock-only listing.
type StockLevel struct {
	SKU   string
	Stock int
	Err   error
}

// ConnectionResult reports whether Stock is reachable with the
// given credentials.
type ConnectionResult struct {
	Connected bool   `json:"connected"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MovementLine is a single sku line of a movement. Exactly one of
// FromLocation and ToLocation is sent depending on the type.
type MovementLine struct {
	SKU          string          `json:"sku"`
	FromLocation string          `json:"fromLocation,omitempty"`
	ToLocation   string          `json:"toLocation,omitempty"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unitCost"`
	Note         string          `json:"note,omitempty"`
}

// MovementInput is the body of POST /movements.
type MovementInput struct {
	Type  MovementType   `json:"type"`
	RefNo string         `json:"refNo"`
	Note  string         `json:"note,omitempty"`
	Lines []MovementLine `json:"lines"`

	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

// MovementResult carries the durable document number assigned
// by Stock.
type MovementResult struct {
	DocNumber string `json:"docNumber"`
}
