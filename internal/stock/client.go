package stock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout bounds every Stock call.
	DefaultTimeout = 30 * time.Second
	// DefaultPageSize is used when the caller does not pick one.
	DefaultPageSize = 50
	// MaxPageSize is the largest page Stock is asked for.
	MaxPageSize = 200

	maxResponseBytes = 32 << 20
)

// Client talks to the remote Stock HTTP API. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
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

// WithTimeout sets the per-request timeout. Non-positive values
// are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a client for the Stock API at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs one request and returns the body of a 2xx
// response. Every failure is a *RemoteAPIError.
func (c *Client) do(
	ctx context.Context, method, path string,
	query url.Values, body any, header http.Header,
) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, remoteErr(err, "encoding request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, remoteErr(err, "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, remoteErr(
			err, "%s %s: %v", method, path, err,
		)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, remoteErr(
			err, "%s %s: reading response: %v", method, path, err,
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteAPIError{
			Message:    fmt.Sprintf("%s %s: %s", method, path, msg),
			StatusCode: resp.StatusCode,
		}
	}
	return data, nil
}

// TestConnection checks credentials against Stock. It never
// returns an error; failures are reported in the result.
func (c *Client) TestConnection(ctx context.Context) ConnectionResult {
	data, err := c.do(
		ctx, http.MethodGet, "/connection-test", nil, nil, nil,
	)
	if err != nil {
		return ConnectionResult{Error: err.Error()}
	}
	return ConnectionResult{
		Connected: true,
		Name:      gjson.GetBytes(data, "name").String(),
	}
}

// normalize clamps page and page size into the accepted range.
func (o ListOptions) normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	if o.Mode == "" {
		o.Mode = ModeIncremental
	}
	return o
}

// ListProductsPage fetches one 1-based page of products. In
// incremental mode UpdatedAfter is forwarded; full mode ignores
// it. The returned TotalPages is the authoritative loop bound.
func (c *Client) ListProductsPage(
	ctx context.Context, opts ListOptions,
) (ProductPage, error) {
	opts = opts.normalize()
	q := url.Values{}
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("pageSize", strconv.Itoa(opts.PageSize))
	if opts.Mode == ModeIncremental && !opts.UpdatedAfter.IsZero() {
		q.Set("updatedAfter",
			opts.UpdatedAfter.UTC().Format(time.RFC3339))
	}

	data, err := c.do(ctx, http.MethodGet, "/products", q, nil, nil)
	if err != nil {
		return ProductPage{}, err
	}
	return decodeProductPage(data, opts)
}

// ListStockLevels fetches the lightweight sku -> stock listing.
func (c *Client) ListStockLevels(
	ctx context.Context,
) ([]StockLevel, error) {
	data, err := c.do(
		ctx, http.MethodGet, "/stock-levels", nil, nil, nil,
	)
	if err != nil {
		return nil, err
	}
	return decodeStockLevels(data)
}

// CreateMovement posts an inventory movement. Stock does not
// deduplicate unless it honours the Idempotency-Key header, so
// a failed call may still have been applied remotely.
func (c *Client) CreateMovement(
	ctx context.Context, in MovementInput,
) (MovementResult, error) {
	var header http.Header
	if in.IdempotencyKey != "" {
		header = http.Header{}
		header.Set("Idempotency-Key", in.IdempotencyKey)
	}
	data, err := c.do(
		ctx, http.MethodPost, "/movements", nil, in, header,
	)
	if err != nil {
		return MovementResult{}, err
	}
	doc := gjson.GetBytes(data, "docNumber").String()
	if doc == "" {
		return MovementResult{}, remoteErr(
			nil, "movement response missing docNumber",
		)
	}
	return MovementResult{DocNumber: doc}, nil
}
