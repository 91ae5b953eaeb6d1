package sync

// Phase describes the current sync phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseFetching   Phase = "fetching"
	PhaseSyncing    Phase = "syncing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Active reports whether a sync call is mid-flight in this phase.
func (p Phase) Active() bool {
	switch p {
	case PhaseConnecting, PhaseFetching, PhaseSyncing:
		return true
	}
	return false
}

// Progress is the snapshot pollers read while a caller-driven
// sync walks the remote pages.
type Progress struct {
	Phase          Phase    `json:"phase"`
	CurrentPage    int      `json:"current_page"`
	TotalPages     int      `json:"total_pages"`
	ProcessedCount int      `json:"processed_count"`
	TotalCount     int      `json:"total_count"`
	CurrentProduct *string  `json:"current_product"`
	RecentProducts []string `json:"recent_products"`
	Error          string   `json:"error,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// IdleProgress is the state with no sync in flight.
func IdleProgress() Progress {
	return Progress{Phase: PhaseIdle, RecentProducts: []string{}}
}

// Percent returns the sync progress as a percentage (0–100).
func (p Progress) Percent() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.ProcessedCount) /
		float64(p.TotalCount) * 100
}

func (p Progress) clone() Progress {
	c := p
	if p.CurrentProduct != nil {
		name := *p.CurrentProduct
		c.CurrentProduct = &name
	}
	c.RecentProducts = append(
		make([]string, 0, len(p.RecentProducts)),
		p.RecentProducts...,
	)
	return c
}

// PageResult describes the outcome of syncing one remote page.
type PageResult struct {
	ProductsCreated int      `json:"products_created"`
	ProductsUpdated int      `json:"products_updated"`
	ProductsSkipped int      `json:"products_skipped"`
	VariantsCreated int      `json:"variants_created"`
	VariantsUpdated int      `json:"variants_updated"`
	Errors          []string `json:"errors"`
	Page            int      `json:"page"`
	TotalPages      int      `json:"total_pages"`
	TotalCount      int      `json:"total_count"`
	HasMore         bool     `json:"has_more"`
	SyncedProducts  []string `json:"synced_products"`
}

func newPageResult() PageResult {
	return PageResult{
		Errors:         []string{},
		SyncedProducts: []string{},
	}
}

// RecordProduct adds one successfully written product.
func (r *PageResult) RecordProduct(o productOutcome) {
	if o.created {
		r.ProductsCreated++
	} else {
		r.ProductsUpdated++
	}
	r.VariantsCreated += o.variantsCreated
	r.VariantsUpdated += o.variantsUpdated
	r.SyncedProducts = append(r.SyncedProducts, o.name)
}

// RecordSkip counts a product left untouched and says why.
func (r *PageResult) RecordSkip(msg string) {
	r.ProductsSkipped++
	r.Errors = append(r.Errors, msg)
}

// RecordError appends a per-item failure.
func (r *PageResult) RecordError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// StockResult describes the outcome of a stock-level sync.
type StockResult struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}
