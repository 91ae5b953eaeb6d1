package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wesm/stocksync/internal/stocktest"
)

type productFamily struct {
	prefix   string
	category string
	unit     string
	count    int
	sizes    []string
	price    string
}

var families = []productFamily{
	{"FAB", "fabric", "m", 6, nil, "8.40"},
	{"THR", "thread", "spool", 4, nil, "1.25"},
	{"BTN", "button", "pcs", 3, nil, "0.10"},
	{"TSH", "apparel", "pcs", 5, []string{"S", "M", "L", "XL"}, "12.00"},
	{"HOD", "apparel", "pcs", 2, []string{"M", "L"}, "34.50"},
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "listen address")
	key := flag.String("key", stocktest.DefaultAPIKey, "accepted API key")
	fixture := flag.String("fixture", "",
		"JSON fixture to serve instead of the generated catalog")
	idempotent := flag.Bool("idempotent", true,
		"replay movements that reuse an Idempotency-Key")
	flag.Parse()

	fake := stocktest.NewFake(*key)
	fake.HonorIdempotency(*idempotent)

	if *fixture != "" {
		if err := fake.LoadFixture(*fixture); err != nil {
			log.Fatalf("loading fixture: %v", err)
		}
	} else {
		base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
		products := generateCatalog(base)
		fake.SetProducts(products...)
		var levels []string
		for _, p := range products {
			levels = append(levels, stockLevels(p)...)
		}
		fake.SetStockLevels(levels...)
		fmt.Printf("Generated %d products\n", len(products))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	fmt.Printf("Fake Stock API at http://%s (key %q)\n", *addr, *key)
	if err := srv.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// generateCatalog builds a deterministic catalog from families.
// Products are stamped a day apart so incremental syncs have
// something to filter on.
func generateCatalog(base time.Time) []stocktest.Product {
	var out []stocktest.Product
	n := 0
	for _, fam := range families {
		price := decimal.RequireFromString(fam.price)
		for i := range fam.count {
			sku := fmt.Sprintf("%s-%03d", fam.prefix, i+1)
			p := stocktest.Product{
				SKU:         sku,
				Name:        fmt.Sprintf("%s %s #%d", fam.category, fam.prefix, i+1),
				ProductType: "RAW",
				Category:    fam.category,
				Unit:        fam.unit,
				BasePrice:   price.Add(decimal.NewFromInt(int64(i))).StringFixed(2),
				CostPrice:   price.Mul(decimal.NewFromFloat(0.6)).StringFixed(2),
				Stock:       10 * (i + 1),
				UpdatedAt:   base.Add(time.Duration(n) * 24 * time.Hour).Format(time.RFC3339),
			}
			if len(fam.sizes) > 0 {
				p.ProductType = "FINISHED"
				p.Stock = 0
				for j, size := range fam.sizes {
					p.Variants = append(p.Variants, stocktest.Variant{
						SKU:      fmt.Sprintf("%s-%s", sku, size),
						Size:     size,
						Color:    "black",
						Stock:    5 * (j + 1),
						PriceAdj: decimal.NewFromInt(int64(j)).StringFixed(2),
					})
				}
			}
			out = append(out, p)
			n++
		}
	}
	return out
}

// stockLevels lists the stock-only entries for p: one per
// variant, or one for the product itself.
func stockLevels(p stocktest.Product) []string {
	if len(p.Variants) == 0 {
		return []string{stocktest.StockLevelJSON(p.SKU, p.Stock)}
	}
	out := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		out = append(out, stocktest.StockLevelJSON(v.SKU, v.Stock))
	}
	return out
}
