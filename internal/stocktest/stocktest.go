// Package stocktest provides fixture builders and an in-memory
// stand-in for the remote Stock API. Used by the stock, sync,
// movement and server test packages and by cmd/fakestock.
package stocktest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultAPIKey is the key a Fake accepts unless told otherwise.
const DefaultAPIKey = "test-key"

// Product builds one remote product as JSON.
type Product struct {
	SKU         string
	Name        string
	Description string
	ProductType string
	Category    string
	Unit        string
	BasePrice   string
	CostPrice   string
	Stock       int
	UpdatedAt   string
	Variants    []Variant
}

// Variant builds one remote variant.
type Variant struct {
	SKU      string
	Size     string
	Color    string
	Stock    int
	PriceAdj string
}

// JSON renders p in the Stock wire format.
func (p Product) JSON() string {
	m := map[string]any{
		"sku":         p.SKU,
		"name":        p.Name,
		"description": p.Description,
		"productType": p.ProductType,
		"category":    p.Category,
		"unit":        p.Unit,
		"stock":       p.Stock,
	}
	if p.BasePrice != "" {
		m["basePrice"] = json.Number(p.BasePrice)
	}
	if p.CostPrice != "" {
		m["costPrice"] = json.Number(p.CostPrice)
	}
	if p.UpdatedAt != "" {
		m["updatedAt"] = p.UpdatedAt
	}
	variants := make([]map[string]any, 0, len(p.Variants))
	for _, v := range p.Variants {
		vm := map[string]any{
			"sku":   v.SKU,
			"size":  v.Size,
			"color": v.Color,
			"stock": v.Stock,
		}
		if v.PriceAdj != "" {
			vm["priceAdj"] = json.Number(v.PriceAdj)
		}
		variants = append(variants, vm)
	}
	m["variants"] = variants
	return mustMarshal(m)
}

// StockLevelJSON renders one entry of GET /stock-levels.
func StockLevelJSON(sku string, stock int) string {
	return mustMarshal(map[string]any{"sku": sku, "stock": stock})
}

func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("stocktest: marshal: %v", err))
	}
	return string(data)
}

// Movement is a movement the Fake accepted or rejected.
type Movement struct {
	Type           string
	RefNo          string
	Note           string
	Lines          []gjson.Result
	IdempotencyKey string
	DocNumber      string
}

// Fake is an in-memory Stock API. Items are kept as raw JSON so
// tests can inject malformed entries.
type Fake struct {
	mu               sync.Mutex
	apiKey           string
	name             string
	items            []string
	levels           []string
	movementStatus   int
	honorIdempotency bool
	movements        []Movement
	docsByKey        map[string]string
	nextDoc          int
	productCalls     int
}

// NewFake returns a Fake accepting apiKey.
func NewFake(apiKey string) *Fake {
	return &Fake{
		apiKey:    apiKey,
		name:      "Fake Stock",
		docsByKey: make(map[string]string),
	}
}

// Start serves f on an httptest server closed at test cleanup.
func (f *Fake) Start(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// SetName sets the account name reported by /connection-test.
func (f *Fake) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

// SetProducts replaces the catalog.
func (f *Fake) SetProducts(ps ...Product) {
	raw := make([]string, len(ps))
	for i, p := range ps {
		raw[i] = p.JSON()
	}
	f.SetRawItems(raw...)
}

// SetRawItems replaces the catalog with verbatim JSON items.
func (f *Fake) SetRawItems(raw ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]string(nil), raw...)
}

// SetStockLevels replaces the stock-only listing with verbatim
// JSON entries.
func (f *Fake) SetStockLevels(raw ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append([]string(nil), raw...)
}

// FailMovements makes POST /movements answer with status. Zero
// restores success.
func (f *Fake) FailMovements(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movementStatus = status
}

// HonorIdempotency makes repeated Idempotency-Key values return
// the first document number instead of posting again.
func (f *Fake) HonorIdempotency(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.honorIdempotency = on
}

// Movements returns every accepted movement in order.
func (f *Fake) Movements() []Movement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Movement(nil), f.movements...)
}

// ProductCalls returns how many product pages were served.
func (f *Fake) ProductCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.productCalls
}

// Handler returns the HTTP handler implementing the Stock API.
func (f *Fake) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /connection-test", f.handleConnection)
	mux.HandleFunc("GET /products", f.handleProducts)
	mux.HandleFunc("GET /stock-levels", f.handleStockLevels)
	mux.HandleFunc("POST /movements", f.handleMovements)
	return f.auth(mux)
}

func (f *Fake) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		key := f.apiKey
		f.mu.Unlock()
		if r.Header.Get("X-API-Key") != key {
			writeJSON(w, http.StatusUnauthorized,
				`{"error":"invalid api key"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (f *Fake) handleConnection(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	name := f.name
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, mustMarshal(map[string]string{
		"name": name,
	}))
}

func (f *Fake) handleProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("pageSize"))
	if size < 1 {
		size = 50
	}
	var after time.Time
	if v := q.Get("updatedAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				`{"error":"invalid updatedAfter"}`)
			return
		}
		after = t
	}

	f.mu.Lock()
	f.productCalls++
	var matched []string
	for _, raw := range f.items {
		if !after.IsZero() {
			ts, err := time.Parse(time.RFC3339,
				gjson.Get(raw, "updatedAt").String())
			if err == nil && !ts.After(after) {
				continue
			}
		}
		matched = append(matched, raw)
	}
	f.mu.Unlock()

	total := len(matched)
	totalPages := (total + size - 1) / size
	start := min((page-1)*size, total)
	end := min(start+size, total)

	body := fmt.Sprintf(
		`{"items":[%s],"page":%d,"totalPages":%d,"totalCount":%d}`,
		strings.Join(matched[start:end], ","),
		page, totalPages, total,
	)
	writeJSON(w, http.StatusOK, body)
}

func (f *Fake) handleStockLevels(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	body := "[" + strings.Join(f.levels, ",") + "]"
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (f *Fake) handleMovements(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(data) {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid body"}`)
		return
	}
	body := gjson.ParseBytes(data)
	m := Movement{
		Type:           body.Get("type").String(),
		RefNo:          body.Get("refNo").String(),
		Note:           body.Get("note").String(),
		Lines:          body.Get("lines").Array(),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.movementStatus != 0 {
		writeJSON(w, f.movementStatus,
			`{"error":"movement rejected"}`)
		return
	}
	if m.Type != "ISSUE" && m.Type != "RECEIVE" {
		writeJSON(w, http.StatusBadRequest,
			`{"error":"unknown movement type"}`)
		return
	}
	if f.honorIdempotency && m.IdempotencyKey != "" {
		if doc, ok := f.docsByKey[m.IdempotencyKey]; ok {
			writeJSON(w, http.StatusOK, mustMarshal(
				map[string]string{"docNumber": doc}))
			return
		}
	}

	f.nextDoc++
	prefix := "ISS"
	if m.Type == "RECEIVE" {
		prefix = "RCV"
	}
	m.DocNumber = fmt.Sprintf("%s-%04d", prefix, f.nextDoc)
	if m.IdempotencyKey != "" {
		f.docsByKey[m.IdempotencyKey] = m.DocNumber
	}
	f.movements = append(f.movements, m)
	writeJSON(w, http.StatusCreated, mustMarshal(
		map[string]string{"docNumber": m.DocNumber}))
}

// LoadFixture replaces the Fake's catalog and stock levels with
// the contents of a JSON file shaped as
// {"name": "...", "products": [...], "stockLevels": [...]}.
func (f *Fake) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fixture: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("fixture %s is not valid JSON", path)
	}
	root := gjson.ParseBytes(data)

	var items, levels []string
	root.Get("products").ForEach(func(_, v gjson.Result) bool {
		items = append(items, v.Raw)
		return true
	})
	root.Get("stockLevels").ForEach(func(_, v gjson.Result) bool {
		levels = append(levels, v.Raw)
		return true
	})

	f.SetRawItems(items...)
	f.SetStockLevels(levels...)
	if name := root.Get("name").String(); name != "" {
		f.SetName(name)
	}
	return nil
}
