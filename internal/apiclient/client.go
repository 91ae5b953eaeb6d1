// Package apiclient is the HTTP client for a running stocksync
// server. It drives multi-page catalog syncs from the caller's
// side, one POST per page.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

// finishTimeout bounds the completion call issued after a
// cancelled SyncAll.
const finishTimeout = 5 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the stocksync JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Nil is
// ignored.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(
	ctx context.Context, method, path string, body, out any,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// PageRequest selects one page for SyncPage.
type PageRequest struct {
	Page         int
	Mode         stock.Mode
	UpdatedAfter time.Time
}

type pageBody struct {
	Page         int    `json:"page"`
	Mode         string `json:"mode,omitempty"`
	UpdatedAfter string `json:"updated_after,omitempty"`
}

// SyncPage syncs one remote page on the server.
func (c *Client) SyncPage(
	ctx context.Context, req PageRequest,
) (sync.PageResult, error) {
	body := pageBody{Page: req.Page, Mode: string(req.Mode)}
	if !req.UpdatedAfter.IsZero() {
		body.UpdatedAfter = req.UpdatedAfter.UTC().Format(time.RFC3339Nano)
	}
	var res sync.PageResult
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/page", body, &res)
	return res, err
}

// SyncStock runs a stock-only sync on the server.
func (c *Client) SyncStock(ctx context.Context) (sync.StockResult, error) {
	var res sync.StockResult
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/stock", nil, &res)
	return res, err
}

// Finish signals the end of a multi-page sync.
func (c *Client) Finish(ctx context.Context) (sync.Progress, error) {
	var p sync.Progress
	err := c.do(ctx, http.MethodPost, "/api/v1/sync/finish", nil, &p)
	return p, err
}

// Status returns the persisted sync status.
func (c *Client) Status(ctx context.Context) (db.SyncStatus, error) {
	var s db.SyncStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &s)
	return s, err
}

// Progress returns the live progress snapshot.
func (c *Client) Progress(ctx context.Context) (sync.Progress, error) {
	var p sync.Progress
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/progress", nil, &p)
	return p, err
}

// TestConnection checks the stored Stock credentials.
func (c *Client) TestConnection(
	ctx context.Context,
) (stock.ConnectionResult, error) {
	var res stock.ConnectionResult
	err := c.do(
		ctx, http.MethodPost, "/api/v1/stock/test-connection", nil, &res,
	)
	return res, err
}

// Summary accumulates the page results of a SyncAll run.
type Summary struct {
	Pages           int      `json:"pages"`
	TotalCount      int      `json:"total_count"`
	ProductsCreated int      `json:"products_created"`
	ProductsUpdated int      `json:"products_updated"`
	ProductsSkipped int      `json:"products_skipped"`
	VariantsCreated int      `json:"variants_created"`
	VariantsUpdated int      `json:"variants_updated"`
	Errors          []string `json:"errors"`
}

func (s *Summary) add(r sync.PageResult) {
	s.Pages++
	s.TotalCount = r.TotalCount
	s.ProductsCreated += r.ProductsCreated
	s.ProductsUpdated += r.ProductsUpdated
	s.ProductsSkipped += r.ProductsSkipped
	s.VariantsCreated += r.VariantsCreated
	s.VariantsUpdated += r.VariantsUpdated
	s.Errors = append(s.Errors, r.Errors...)
}

// SyncAll walks every page from 1 while the server reports more,
// then calls Finish. onPage, when non-nil, sees each page result
// as it arrives. Cancelling ctx stops between pages; progress is
// still returned to idle. A failed page is returned as is and
// leaves the server's error state visible.
func (c *Client) SyncAll(
	ctx context.Context, mode stock.Mode, updatedAfter time.Time,
	onPage func(sync.PageResult),
) (Summary, error) {
	sum := Summary{Errors: []string{}}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			c.finishDetached(ctx)
			return sum, err
		}
		res, err := c.SyncPage(ctx, PageRequest{
			Page: page, Mode: mode, UpdatedAfter: updatedAfter,
		})
		if err != nil {
			return sum, fmt.Errorf("syncing page %d: %w", page, err)
		}
		sum.add(res)
		if onPage != nil {
			onPage(res)
		}
		if !res.HasMore || page >= res.TotalPages {
			break
		}
	}
	if _, err := c.Finish(ctx); err != nil {
		return sum, fmt.Errorf("finishing sync: %w", err)
	}
	return sum, nil
}

func (c *Client) finishDetached(ctx context.Context) {
	fctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), finishTimeout,
	)
	defer cancel()
	if _, err := c.Finish(fctx); err != nil {
		log.Printf("apiclient: finishing cancelled sync: %v", err)
	}
}
