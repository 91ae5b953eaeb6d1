package apiclient_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/stocksync/internal/apiclient"
	"github.com/wesm/stocksync/internal/config"
	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/movement"
	"github.com/wesm/stocksync/internal/server"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/stocktest"
	"github.com/wesm/stocksync/internal/sync"
)

type testEnv struct {
	client *apiclient.Client
	fake   *stocktest.Fake
}

// newTestEnv serves a stocksync server backed by a fake remote.
// When configured is false no credentials are stored.
func newTestEnv(t *testing.T, pageSize int, configured bool) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	fake := stocktest.NewFake(stocktest.DefaultAPIKey)
	remote := fake.Start(t)

	resolver := stock.NewResolver(database, "")
	if configured {
		require.NoError(t, resolver.SaveCredentials(
			context.Background(), remote.URL, stocktest.DefaultAPIKey,
		))
	}
	tracker := sync.NewTracker(sync.NewMemoryProgressStore(), 0)
	driver := sync.NewDriver(
		database, resolver, tracker, sync.WithPageSize(pageSize),
	)
	srv := server.New(
		config.Config{WriteTimeout: 10 * time.Second},
		database, driver,
		movement.NewReconciler(database, resolver, nil),
		resolver,
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{client: apiclient.New(ts.URL + "/"), fake: fake}
}

func products(n int) []stocktest.Product {
	ps := make([]stocktest.Product, n)
	for i := range ps {
		ps[i] = stocktest.Product{
			SKU:   fmt.Sprintf("P-%02d", i+1),
			Name:  fmt.Sprintf("Product %d", i+1),
			Stock: i,
		}
	}
	return ps
}

func TestSyncAll(t *testing.T) {
	env := newTestEnv(t, 2, true)
	env.fake.SetProducts(products(5)...)
	ctx := context.Background()

	var pages []int
	sum, err := env.client.SyncAll(
		ctx, stock.ModeFull, time.Time{},
		func(r sync.PageResult) { pages = append(pages, r.Page) },
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pages)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 5, sum.ProductsCreated)
	assert.Equal(t, 5, sum.TotalCount)
	assert.Empty(t, sum.Errors)

	p, err := env.client.Progress(ctx)
	require.NoError(t, err)
	assert.Equal(t, sync.PhaseIdle, p.Phase)

	status, err := env.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.TotalStockProducts)

	// A second run updates in place.
	sum, err = env.client.SyncAll(ctx, stock.ModeFull, time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ProductsCreated)
	assert.Equal(t, 5, sum.ProductsUpdated)
}

func TestSyncAllEmptyCatalog(t *testing.T) {
	env := newTestEnv(t, 2, true)
	sum, err := env.client.SyncAll(
		context.Background(), stock.ModeIncremental, time.Time{}, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pages)
	assert.Zero(t, sum.ProductsCreated)
}

func TestSyncAllIncremental(t *testing.T) {
	env := newTestEnv(t, 10, true)
	env.fake.SetProducts(
		stocktest.Product{SKU: "OLD", Name: "Old", UpdatedAt: "2024-01-01T00:00:00Z"},
		stocktest.Product{SKU: "NEW", Name: "New", UpdatedAt: "2024-06-01T00:00:00Z"},
	)
	sum, err := env.client.SyncAll(
		context.Background(), stock.ModeIncremental,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProductsCreated)
}

func TestSyncAllCancelledBetweenPages(t *testing.T) {
	env := newTestEnv(t, 2, true)
	env.fake.SetProducts(products(5)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sum, err := env.client.SyncAll(
		ctx, stock.ModeFull, time.Time{},
		func(sync.PageResult) { cancel() },
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.ProductsCreated)

	p, err := env.client.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sync.PhaseIdle, p.Phase)
}

func TestSyncAllNotConfigured(t *testing.T) {
	env := newTestEnv(t, 2, false)
	_, err := env.client.SyncAll(
		context.Background(), stock.ModeFull, time.Time{}, nil,
	)
	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, stock.SettingKey)

	// The failure stays visible instead of being reset.
	p, err := env.client.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sync.PhaseError, p.Phase)
}

func TestSyncStockAndConnection(t *testing.T) {
	env := newTestEnv(t, 2, true)
	env.fake.SetName("Warehouse")
	env.fake.SetProducts(stocktest.Product{SKU: "A", Name: "Alpha"})
	ctx := context.Background()

	conn, err := env.client.TestConnection(ctx)
	require.NoError(t, err)
	assert.True(t, conn.Connected)
	assert.Equal(t, "Warehouse", conn.Name)

	_, err = env.client.SyncPage(ctx, apiclient.PageRequest{Page: 1})
	require.NoError(t, err)
	env.fake.SetStockLevels(stocktest.StockLevelJSON("A", 9))

	res, err := env.client.SyncStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)
}
