package stock_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/stocktest"
)

func newFakeClient(t *testing.T) (*stocktest.Fake, *stock.Client) {
	t.Helper()
	fake := stocktest.NewFake(stocktest.DefaultAPIKey)
	srv := fake.Start(t)
	return fake, stock.New(srv.URL, stocktest.DefaultAPIKey)
}

func TestTestConnection(t *testing.T) {
	fake, c := newFakeClient(t)
	fake.SetName("Atelier")

	res := c.TestConnection(context.Background())
	assert.Equal(t, stock.ConnectionResult{
		Connected: true, Name: "Atelier",
	}, res)
}

func TestTestConnectionBadKey(t *testing.T) {
	fake := stocktest.NewFake(stocktest.DefaultAPIKey)
	srv := fake.Start(t)
	c := stock.New(srv.URL, "wrong")

	res := c.TestConnection(context.Background())
	assert.False(t, res.Connected)
	assert.Contains(t, res.Error, "invalid api key")
	assert.Contains(t, res.Error, "401")
}

func TestTestConnectionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := stock.New(url, "k").TestConnection(context.Background())
	assert.False(t, res.Connected)
	assert.NotEmpty(t, res.Error)
}

func TestListProductsPage(t *testing.T) {
	fake, c := newFakeClient(t)
	fake.SetProducts(
		stocktest.Product{SKU: "A", Name: "Alpha", BasePrice: "10"},
		stocktest.Product{SKU: "B", Name: "Beta"},
		stocktest.Product{SKU: "C", Name: "Gamma"},
	)

	page, err := c.ListProductsPage(context.Background(), stock.ListOptions{
		Page: 2, PageSize: 2, Mode: stock.ModeFull,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "C", page.Items[0].Product.SKU)
}

func TestListProductsPageIncrementalFilters(t *testing.T) {
	fake, c := newFakeClient(t)
	fake.SetProducts(
		stocktest.Product{SKU: "OLD", UpdatedAt: "2024-01-01T00:00:00Z"},
		stocktest.Product{SKU: "NEW", UpdatedAt: "2024-06-01T00:00:00Z"},
	)
	after := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	inc, err := c.ListProductsPage(context.Background(), stock.ListOptions{
		Mode: stock.ModeIncremental, UpdatedAfter: after,
	})
	require.NoError(t, err)
	require.Len(t, inc.Items, 1)
	assert.Equal(t, "NEW", inc.Items[0].SKU)

	full, err := c.ListProductsPage(context.Background(), stock.ListOptions{
		Mode: stock.ModeFull, UpdatedAfter: after,
	})
	require.NoError(t, err)
	assert.Len(t, full.Items, 2)
}

func TestListProductsPageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream down"}`))
		}))
	t.Cleanup(srv.Close)

	_, err := stock.New(srv.URL, "k").ListProductsPage(
		context.Background(), stock.ListOptions{},
	)
	var re *stock.RemoteAPIError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadGateway, re.StatusCode)
	assert.Contains(t, re.Message, "upstream down")
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
	t.Cleanup(srv.Close)

	c := stock.New(srv.URL, "k", stock.WithTimeout(50*time.Millisecond))
	_, err := c.ListStockLevels(context.Background())
	assert.True(t, stock.IsRemoteError(err))
}

func TestListStockLevels(t *testing.T) {
	fake, c := newFakeClient(t)
	fake.SetStockLevels(
		stocktest.StockLevelJSON("A", 3),
		stocktest.StockLevelJSON("B", 0),
	)
	levels, err := c.ListStockLevels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []stock.StockLevel{
		{SKU: "A", Stock: 3}, {SKU: "B", Stock: 0},
	}, levels)
}

func TestCreateMovement(t *testing.T) {
	fake, c := newFakeClient(t)
	res, err := c.CreateMovement(context.Background(), stock.MovementInput{
		Type:  stock.MovementIssue,
		RefNo: "SO-1",
		Lines: []stock.MovementLine{{
			SKU:          "FABRIC",
			FromLocation: "MAIN",
			Qty:          decimal.RequireFromString("2.5"),
			UnitCost:     decimal.RequireFromString("3"),
		}},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ISS-0001", res.DocNumber)

	ms := fake.Movements()
	require.Len(t, ms, 1)
	assert.Equal(t, "SO-1", ms[0].RefNo)
	assert.Equal(t, "key-1", ms[0].IdempotencyKey)
	require.Len(t, ms[0].Lines, 1)
	assert.Equal(t, "MAIN", ms[0].Lines[0].Get("fromLocation").String())
	assert.False(t, ms[0].Lines[0].Get("toLocation").Exists())
	assert.Equal(t, "2.5", ms[0].Lines[0].Get("qty").String())
}

func TestCreateMovementRejected(t *testing.T) {
	fake, c := newFakeClient(t)
	fake.FailMovements(http.StatusUnprocessableEntity)
	_, err := c.CreateMovement(context.Background(), stock.MovementInput{
		Type: stock.MovementReceive, RefNo: "SO-1",
	})
	var re *stock.RemoteAPIError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnprocessableEntity, re.StatusCode)
	assert.Empty(t, fake.Movements())
}

func TestCreateMovementMissingDocNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
	t.Cleanup(srv.Close)

	_, err := stock.New(srv.URL, "k").CreateMovement(
		context.Background(), stock.MovementInput{Type: stock.MovementIssue},
	)
	assert.ErrorContains(t, err, "missing docNumber")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want stock.Mode
		ok   bool
	}{
		{"", stock.ModeIncremental, true},
		{"incremental", stock.ModeIncremental, true},
		{"full", stock.ModeFull, true},
		{"FULL", "", false},
	}
	for _, tt := range tests {
		got, ok := stock.ParseMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
