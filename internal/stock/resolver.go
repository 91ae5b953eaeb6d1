package stock

import (
	"context"
	"fmt"
	"strings"
)

// Setting keys holding the Stock endpoint and credential.
const (
	SettingURL = "stock_api_url"
	SettingKey = "stock_api_key"
)

// SettingsStore is the key-value store credentials live in.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSettings(ctx context.Context, values map[string]string) error
}

// Resolver builds a Client from persisted settings.
type Resolver struct {
	settings    SettingsStore
	fallbackURL string
	opts        []Option
}

// NewResolver creates a resolver. fallbackURL is used when no
// URL is stored (legacy STOCK_API_URL deployments); there is no
// fallback for the key.
func NewResolver(
	settings SettingsStore, fallbackURL string, opts ...Option,
) *Resolver {
	return &Resolver{
		settings:    settings,
		fallbackURL: strings.TrimSpace(fallbackURL),
		opts:        opts,
	}
}

// Credentials returns the effective URL and key.
func (r *Resolver) Credentials(
	ctx context.Context,
) (apiURL, apiKey string, err error) {
	apiURL, err = r.settings.GetSetting(ctx, SettingURL)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", SettingURL, err)
	}
	apiKey, err = r.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", SettingKey, err)
	}
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" {
		apiURL = r.fallbackURL
	}
	return apiURL, strings.TrimSpace(apiKey), nil
}

// Resolve returns a client for the stored credentials, or nil
// when either the URL or key is blank.
func (r *Resolver) Resolve(ctx context.Context) (*Client, error) {
	apiURL, apiKey, err := r.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	return r.build(apiURL, apiKey), nil
}

// Client is Resolve with a nil result turned into
// ErrNotConfigured.
func (r *Resolver) Client(ctx context.Context) (*Client, error) {
	c, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotConfigured
	}
	return c, nil
}

// ResolveWith overlays explicit credentials on the stored ones.
// Blank arguments fall back to the stored values, so an unsaved
// key can be tested against the saved URL and vice versa.
func (r *Resolver) ResolveWith(
	ctx context.Context, apiURL, apiKey string,
) (*Client, error) {
	storedURL, storedKey, err := r.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = storedURL
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = storedKey
	}
	return r.build(apiURL, apiKey), nil
}

// SaveCredentials persists both settings.
func (r *Resolver) SaveCredentials(
	ctx context.Context, apiURL, apiKey string,
) error {
	return r.settings.SetSettings(ctx, map[string]string{
		SettingURL: strings.TrimSpace(apiURL),
		SettingKey: strings.TrimSpace(apiKey),
	})
}

func (r *Resolver) build(apiURL, apiKey string) *Client {
	apiURL = strings.TrimSpace(apiURL)
	apiKey = strings.TrimSpace(apiKey)
	if apiURL == "" || apiKey == "" {
		return nil
	}
	return New(apiURL, apiKey, r.opts...)
}
