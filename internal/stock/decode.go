package stock

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/wesm/stocksync/internal/timeutil"
)

// decodeProductPage parses a product page. Only a body that is
// not JSON or has no items array fails the whole page; a bad item
// is reported on its own ProductResult.
func decodeProductPage(
	body []byte, opts ListOptions,
) (ProductPage, error) {
	if !gjson.ValidBytes(body) {
		return ProductPage{}, remoteErr(
			nil, "malformed product page: invalid JSON",
		)
	}
	root := gjson.ParseBytes(body)
	items := root.Get("items")
	if !items.IsArray() {
		return ProductPage{}, remoteErr(
			nil, "malformed product page: missing items array",
		)
	}

	page := ProductPage{
		Page:       opts.Page,
		TotalCount: int(root.Get("totalCount").Int()),
	}
	if p := root.Get("page"); p.Exists() && p.Int() > 0 {
		page.Page = int(p.Int())
	}
	if tp := root.Get("totalPages"); tp.Exists() {
		page.TotalPages = int(tp.Int())
	} else if opts.PageSize > 0 {
		page.TotalPages = (page.TotalCount + opts.PageSize - 1) /
			opts.PageSize
	}

	i := 0
	items.ForEach(func(_, item gjson.Result) bool {
		res := ProductResult{
			Index: i,
			SKU:   strings.TrimSpace(item.Get("sku").String()),
			Name:  item.Get("name").String(),
		}
		res.Product, res.Err = decodeProduct(item)
		page.Items = append(page.Items, res)
		i++
		return true
	})
	return page, nil
}

func decodeProduct(r gjson.Result) (RemoteProduct, error) {
	if !r.IsObject() {
		return RemoteProduct{}, errors.New("item is not an object")
	}
	sku := strings.TrimSpace(r.Get("sku").String())
	if sku == "" {
		return RemoteProduct{}, errors.New("missing sku")
	}

	p := RemoteProduct{
		SKU:         sku,
		Name:        r.Get("name").String(),
		Description: r.Get("description").String(),
		ProductType: r.Get("productType").String(),
		Unit:        r.Get("unit").String(),
		Category:    r.Get("category").String(),
		UpdatedAt:   timeutil.Parse(r.Get("updatedAt").String()),
	}
	if p.Name == "" {
		p.Name = sku
	}

	var err error
	if p.BasePrice, err = decodeDecimal(r, "basePrice"); err != nil {
		return RemoteProduct{}, err
	}
	if p.CostPrice, err = decodeDecimal(r, "costPrice"); err != nil {
		return RemoteProduct{}, err
	}
	if p.Stock, err = decodeCount(r, "stock"); err != nil {
		return RemoteProduct{}, err
	}

	variants := r.Get("variants")
	if variants.Exists() && variants.Type != gjson.Null {
		if !variants.IsArray() {
			return RemoteProduct{}, errors.New(
				"variants is not an array",
			)
		}
		for i, v := range variants.Array() {
			rv, err := decodeVariant(v)
			if err != nil {
				return RemoteProduct{}, fmt.Errorf(
					"variant %d: %w", i, err,
				)
			}
			p.Variants = append(p.Variants, rv)
		}
	}
	return p, nil
}

func decodeVariant(r gjson.Result) (RemoteVariant, error) {
	if !r.IsObject() {
		return RemoteVariant{}, errors.New("not an object")
	}
	sku := strings.TrimSpace(r.Get("sku").String())
	if sku == "" {
		return RemoteVariant{}, errors.New("missing sku")
	}
	v := RemoteVariant{
		SKU:   sku,
		Size:  r.Get("size").String(),
		Color: r.Get("color").String(),
	}
	var err error
	if v.Stock, err = decodeCount(r, "stock"); err != nil {
		return RemoteVariant{}, err
	}
	if v.PriceAdj, err = decodeDecimal(r, "priceAdj"); err != nil {
		return RemoteVariant{}, err
	}
	return v, nil
}

// decodeDecimal accepts a JSON number or numeric string. Absent
// and null mean zero.
func decodeDecimal(
	r gjson.Result, field string,
) (decimal.Decimal, error) {
	v := r.Get(field)
	switch v.Type {
	case gjson.Null:
		return decimal.Zero, nil
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf(
				"%s: invalid number %s", field, v.Raw,
			)
		}
		return d, nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf(
				"%s: invalid number %q", field, v.Str,
			)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf(
			"%s: expected number, got %s", field, v.Type,
		)
	}
}

// maxCount is the largest stock count accepted from Stock.
const maxCount = math.MaxInt32

// decodeCount accepts a non-negative integral JSON number or
// numeric string up to maxCount. Absent and null mean zero.
func decodeCount(r gjson.Result, field string) (int, error) {
	v := r.Get(field)
	switch v.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, fmt.Errorf(
				"%s: not an integer: %s", field, v.Raw,
			)
		}
		if v.Num < 0 {
			return 0, fmt.Errorf("%s: negative: %s", field, v.Raw)
		}
		if v.Num > maxCount {
			return 0, fmt.Errorf("%s: out of range: %s", field, v.Raw)
		}
		return int(v.Num), nil
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return 0, fmt.Errorf(
				"%s: not an integer: %q", field, v.Str,
			)
		}
		if n < 0 {
			return 0, fmt.Errorf("%s: negative: %d", field, n)
		}
		if n > maxCount {
			return 0, fmt.Errorf("%s: out of range: %d", field, n)
		}
		return n, nil
	default:
		return 0, fmt.Errorf(
			"%s: expected integer, got %s", field, v.Type,
		)
	}
}

// decodeStockLevels accepts either a bare array or an object
// with an items array.
func decodeStockLevels(body []byte) ([]StockLevel, error) {
	if !gjson.ValidBytes(body) {
		return nil, remoteErr(
			nil, "malformed stock levels: invalid JSON",
		)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		root = root.Get("items")
	}
	if !root.IsArray() {
		return nil, remoteErr(
			nil, "malformed stock levels: expected an array",
		)
	}

	levels := []StockLevel{}
	root.ForEach(func(_, item gjson.Result) bool {
		lvl := StockLevel{
			SKU: strings.TrimSpace(item.Get("sku").String()),
		}
		switch {
		case !item.IsObject():
			lvl.Err = errors.New("entry is not an object")
		case lvl.SKU == "":
			lvl.Err = errors.New("missing sku")
		default:
			lvl.Stock, lvl.Err = decodeCount(item, "stock")
		}
		levels = append(levels, lvl)
		return true
	})
	return levels, nil
}

// errorMessage extracts a human readable message from a
// non-2xx response body.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		for _, path := range []string{
			"error.message", "error", "message",
		} {
			if v := root.Get(path); v.Type == gjson.String &&
				v.Str != "" {
				return v.Str
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
