package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/metrics"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/timeutil"
)

// ErrSyncInProgress is returned when a sync call arrives while
// another one is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// PageRequest selects one remote page.
type PageRequest struct {
	Page         int
	PageSize     int // 0 = driver default
	Mode         stock.Mode
	UpdatedAfter time.Time
}

// Driver pulls the remote catalog into the local store one page
// per call. It keeps no state across calls; the caller walks the
// pages and signals completion with Finish.
type Driver struct {
	db       *db.DB
	resolver *stock.Resolver
	tracker  *Tracker
	metrics  *metrics.Metrics
	pageSize int
	syncMu   gosync.Mutex // single-flight across entry points
	now      func() time.Time
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithPageSize sets the default remote page size.
func WithPageSize(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.pageSize = min(n, stock.MaxPageSize)
		}
	}
}

// WithMetrics records sync outcomes on m.
func WithMetrics(m *metrics.Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver creates a sync driver.
func NewDriver(
	database *db.DB, resolver *stock.Resolver,
	tracker *Tracker, opts ...DriverOption,
) *Driver {
	d := &Driver{
		db:       database,
		resolver: resolver,
		tracker:  tracker,
		pageSize: stock.DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tracker returns the progress tracker the driver writes to.
func (d *Driver) Tracker() *Tracker {
	return d.tracker
}

func (d *Driver) track(err error) {
	if err != nil {
		log.Printf("sync: updating progress: %v", err)
	}
}

func (d *Driver) fail(ctx context.Context, what string, err error) error {
	d.track(d.tracker.SetError(ctx, err.Error()))
	d.metrics.SyncFailed()
	log.Printf("sync: %s: %v", what, err)
	return err
}

// SyncPage fetches one remote page and upserts every product in
// it. Per-item failures land in PageResult.Errors; only an
// unusable configuration, a failed remote fetch or cancellation
// fail the call.
func (d *Driver) SyncPage(
	ctx context.Context, req PageRequest,
) (PageResult, error) {
	if !d.syncMu.TryLock() {
		return PageResult{}, ErrSyncInProgress
	}
	defer d.syncMu.Unlock()

	start := d.now()
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Mode == "" {
		req.Mode = stock.ModeIncremental
	}
	pageSize := d.pageSize
	if req.PageSize > 0 {
		pageSize = min(req.PageSize, stock.MaxPageSize)
	}

	d.track(d.tracker.Begin(ctx, PhaseConnecting, req.Page))
	client, err := d.resolver.Client(ctx)
	if err != nil {
		return PageResult{}, d.fail(ctx, "resolving credentials", err)
	}

	d.track(d.tracker.SetPhase(ctx, PhaseFetching))
	page, err := client.ListProductsPage(ctx, stock.ListOptions{
		Page:         req.Page,
		PageSize:     pageSize,
		Mode:         req.Mode,
		UpdatedAfter: req.UpdatedAfter,
	})
	if err != nil {
		return PageResult{}, d.fail(
			ctx, fmt.Sprintf("fetching page %d", req.Page), err,
		)
	}

	res := newPageResult()
	res.Page = page.Page
	res.TotalPages = page.TotalPages
	res.TotalCount = page.TotalCount
	res.HasMore = page.Page < page.TotalPages

	base := (page.Page - 1) * pageSize
	d.track(d.tracker.SetPhase(ctx, PhaseSyncing))
	d.track(d.tracker.SetPageInfo(ctx, page.Page, page.TotalPages))
	d.track(d.tracker.SetCounts(ctx, min(base, page.TotalCount), page.TotalCount))

	for i, item := range page.Items {
		if err := ctx.Err(); err != nil {
			return res, d.fail(ctx, "page cancelled", err)
		}
		d.track(d.tracker.SetCurrent(ctx, displayName(item)))
		d.syncItem(ctx, item, &res)

		processed := base + i + 1
		if page.TotalCount > 0 && processed > page.TotalCount {
			processed = page.TotalCount
		}
		d.track(d.tracker.SetCounts(ctx, processed, page.TotalCount))
	}
	d.track(d.tracker.SetCurrent(ctx, ""))

	if _, err := d.db.RefreshSyncStatus(
		ctx, timeutil.Format(d.now()),
	); err != nil {
		return res, d.fail(ctx, "refreshing sync status", err)
	}

	next := PhaseDone
	if res.HasMore {
		next = PhaseSyncing
	}
	d.track(d.tracker.SetPhase(ctx, next))
	d.metrics.ObservePage(d.now().Sub(start).Seconds())

	log.Printf(
		"sync: page %d/%d: %d created, %d updated, "+
			"%d skipped, %d error(s)",
		res.Page, res.TotalPages, res.ProductsCreated,
		res.ProductsUpdated, res.ProductsSkipped,
		len(res.Errors)-res.ProductsSkipped,
	)
	return res, nil
}

func displayName(item stock.ProductResult) string {
	if item.Err == nil && item.Product.Name != "" {
		return item.Product.Name
	}
	if item.Name != "" {
		return item.Name
	}
	return itemLabel(item)
}

func itemLabel(item stock.ProductResult) string {
	if item.SKU != "" {
		return item.SKU
	}
	return fmt.Sprintf("item %d", item.Index+1)
}

func (d *Driver) syncItem(
	ctx context.Context, item stock.ProductResult, res *PageResult,
) {
	if item.Err != nil {
		res.RecordError(fmt.Sprintf(
			"product %s: %v", itemLabel(item), item.Err,
		))
		d.metrics.ProductSynced(metrics.ResultFailed)
		return
	}

	out, err := d.syncProduct(ctx, item.Product)
	switch {
	case err != nil:
		res.RecordError(fmt.Sprintf(
			"product %s: %v", item.Product.SKU, err,
		))
		d.metrics.ProductSynced(metrics.ResultFailed)
	case out.skipped:
		res.RecordSkip(fmt.Sprintf(
			"product %s: skipped, locally managed (source LOCAL)",
			item.Product.SKU,
		))
		d.metrics.ProductSynced(metrics.ResultSkipped)
	default:
		res.RecordProduct(out)
		d.track(d.tracker.PushRecent(ctx, out.name))
		if out.created {
			d.metrics.ProductSynced(metrics.ResultCreated)
		} else {
			d.metrics.ProductSynced(metrics.ResultUpdated)
		}
	}
}

// productOutcome is the result of writing one remote product.
type productOutcome struct {
	name            string
	created         bool
	skipped         bool
	variantsCreated int
	variantsUpdated int
}

// syncProduct writes one product and its variants in a single
// transaction. Variants missing from the payload are left alone.
func (d *Driver) syncProduct(
	ctx context.Context, rp stock.RemoteProduct,
) (productOutcome, error) {
	out := productOutcome{name: rp.Name}
	now := timeutil.Format(d.now())

	err := d.db.Update(func(tx *sql.Tx) error {
		existing, err := db.GetProductTx(ctx, tx, rp.SKU)
		if err != nil {
			return err
		}
		if existing != nil && existing.Source == db.SourceLocal {
			out.skipped = true
			return nil
		}

		p := db.Product{
			SKU:             rp.SKU,
			Name:            rp.Name,
			Description:     rp.Description,
			ProductType:     rp.ProductType,
			BasePrice:       rp.BasePrice,
			CostPrice:       rp.CostPrice,
			Unit:            rp.Unit,
			Category:        rp.Category,
			Source:          db.SourceStock,
			TotalStock:      rp.Stock,
			RemoteUpdatedAt: timeutil.Ptr(rp.UpdatedAt),
			SyncedAt:        &now,
		}
		if existing == nil {
			if err := db.InsertProductTx(ctx, tx, p); err != nil {
				return err
			}
			out.created = true
		} else if err := db.UpdateSyncedProductTx(
			ctx, tx, p, len(rp.Variants) == 0,
		); err != nil {
			return err
		}

		for _, rv := range rp.Variants {
			created, err := db.UpsertVariantTx(ctx, tx, db.Variant{
				ProductSKU: rp.SKU,
				VariantSKU: rv.SKU,
				Size:       rv.Size,
				Color:      rv.Color,
				Stock:      rv.Stock,
				PriceAdj:   rv.PriceAdj,
				LastSeenAt: &now,
			})
			if err != nil {
				return err
			}
			if created {
				out.variantsCreated++
			} else {
				out.variantsUpdated++
			}
		}
		_, err = db.RecomputeTotalStockTx(ctx, tx, rp.SKU)
		return err
	})
	if err != nil {
		return productOutcome{}, err
	}
	return out, nil
}

// SyncStockLevels applies the remote stock-only listing to
// matching variants and variant-less products. Unknown SKUs are
// reported, never created.
func (d *Driver) SyncStockLevels(ctx context.Context) (StockResult, error) {
	if !d.syncMu.TryLock() {
		return StockResult{}, ErrSyncInProgress
	}
	defer d.syncMu.Unlock()

	d.track(d.tracker.Begin(ctx, PhaseConnecting, 1))
	client, err := d.resolver.Client(ctx)
	if err != nil {
		return StockResult{}, d.fail(ctx, "resolving credentials", err)
	}

	d.track(d.tracker.SetPhase(ctx, PhaseFetching))
	levels, err := client.ListStockLevels(ctx)
	if err != nil {
		return StockResult{}, d.fail(ctx, "fetching stock levels", err)
	}

	d.track(d.tracker.SetPhase(ctx, PhaseSyncing))
	d.track(d.tracker.SetPageInfo(ctx, 1, 1))
	d.track(d.tracker.SetCounts(ctx, 0, len(levels)))

	res := StockResult{Errors: []string{}}
	for i, lvl := range levels {
		if err := ctx.Err(); err != nil {
			return res, d.fail(ctx, "stock sync cancelled", err)
		}
		if err := d.applyStockLevel(ctx, lvl); err != nil {
			label := lvl.SKU
			if label == "" {
				label = fmt.Sprintf("entry %d", i+1)
			}
			res.Errors = append(res.Errors, fmt.Sprintf(
				"stock level %s: %v", label, err,
			))
			d.metrics.StockLevelApplied(false)
		} else {
			res.Updated++
			d.metrics.StockLevelApplied(true)
		}
		d.track(d.tracker.SetCounts(ctx, i+1, len(levels)))
	}

	if _, err := d.db.RefreshSyncStatus(
		ctx, timeutil.Format(d.now()),
	); err != nil {
		return res, d.fail(ctx, "refreshing sync status", err)
	}
	d.track(d.tracker.SetPhase(ctx, PhaseDone))

	log.Printf(
		"sync: stock levels: %d updated, %d error(s)",
		res.Updated, len(res.Errors),
	)
	return res, nil
}

func (d *Driver) applyStockLevel(
	ctx context.Context, lvl stock.StockLevel,
) error {
	if lvl.Err != nil {
		return lvl.Err
	}
	err := d.db.Update(func(tx *sql.Tx) error {
		_, err := db.SetStockBySKUTx(ctx, tx, lvl.SKU, lvl.Stock)
		return err
	})
	switch {
	case errors.Is(err, db.ErrUnknownSKU):
		return errors.New("not in local catalog")
	case errors.Is(err, db.ErrLocallyManaged):
		return errors.New("locally managed, not overwritten")
	}
	return err
}

// Finish is the caller's completion signal: progress returns
// to idle.
func (d *Driver) Finish(ctx context.Context) error {
	if !d.syncMu.TryLock() {
		return ErrSyncInProgress
	}
	defer d.syncMu.Unlock()
	return d.tracker.Reset(ctx)
}
