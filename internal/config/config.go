package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	configFileName = "config.json"
	envFileName    = ".env"

	// MaxPageSize mirrors the largest page the Stock API serves.
	MaxPageSize = 200
)

// Progress store kinds.
const (
	ProgressStoreMemory = "memory"
	ProgressStoreBolt   = "bolt"
)

// Config holds all application configuration.
type Config struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	DataDir           string        `json:"data_dir"`
	DBPath            string        `json:"-"`
	WriteTimeout      time.Duration `json:"-"`
	StockAPIURL       string        `json:"stock_api_url,omitempty"`
	RequestTimeout    time.Duration `json:"-"`
	PageSize          int           `json:"page_size"`
	ProgressStore     string        `json:"progress_store"`
	ProgressPath      string        `json:"progress_path,omitempty"`
	RecentCapacity    int           `json:"recent_capacity"`
	StockSyncInterval time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".stocksync")
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "catalog.db"),
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 30 * time.Second,
		PageSize:       50,
		ProgressStore:  ProgressStoreMemory,
		RecentCapacity: 10,
	}, nil
}

// Load builds a Config by layering:
// defaults < .env < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

// LoadMinimal builds a Config from defaults, .env files, the
// config file and env, without parsing CLI flags. Use this for
// subcommands that manage their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}

	// .env in the working directory may itself move the data
	// dir, so it is read before the data dir's own .env.
	if err := loadDotEnv(envFileName); err != nil {
		return cfg, err
	}
	if v := os.Getenv("STOCKSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := loadDotEnv(filepath.Join(cfg.DataDir, envFileName)); err != nil {
		return cfg, err
	}

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "catalog.db")
	if cfg.ProgressPath == "" {
		cfg.ProgressPath = filepath.Join(cfg.DataDir, "progress.db")
	}
	return cfg, cfg.validate()
}

// loadDotEnv reads path into the environment without replacing
// variables that are already set. A missing file is fine.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, configFileName)
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host              string `json:"host"`
		Port              int    `json:"port"`
		StockAPIURL       string `json:"stock_api_url"`
		RequestTimeout    string `json:"request_timeout"`
		PageSize          int    `json:"page_size"`
		ProgressStore     string `json:"progress_store"`
		ProgressPath      string `json:"progress_path"`
		RecentCapacity    int    `json:"recent_capacity"`
		StockSyncInterval string `json:"stock_sync_interval"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.StockAPIURL != "" {
		c.StockAPIURL = file.StockAPIURL
	}
	if file.PageSize != 0 {
		c.PageSize = file.PageSize
	}
	if file.ProgressStore != "" {
		c.ProgressStore = file.ProgressStore
	}
	if file.ProgressPath != "" {
		c.ProgressPath = file.ProgressPath
	}
	if file.RecentCapacity != 0 {
		c.RecentCapacity = file.RecentCapacity
	}
	if file.RequestTimeout != "" {
		d, err := time.ParseDuration(file.RequestTimeout)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	if file.StockSyncInterval != "" {
		d, err := time.ParseDuration(file.StockSyncInterval)
		if err != nil {
			return fmt.Errorf("stock_sync_interval: %w", err)
		}
		c.StockSyncInterval = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("STOCKSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	// Legacy deployments configure the endpoint only through
	// the environment; the API key always lives in settings.
	if v := os.Getenv("STOCK_API_URL"); v != "" {
		c.StockAPIURL = v
	}
	if v := os.Getenv("STOCKSYNC_PROGRESS_STORE"); v != "" {
		c.ProgressStore = v
	}
	if v := os.Getenv("STOCKSYNC_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STOCKSYNC_PAGE_SIZE: %w", err)
		}
		c.PageSize = n
	}
	if v := os.Getenv("STOCKSYNC_STOCK_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STOCKSYNC_STOCK_SYNC_INTERVAL: %w", err)
		}
		c.StockSyncInterval = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return fmt.Errorf(
			"page size %d out of range 1-%d", c.PageSize, MaxPageSize,
		)
	}
	switch c.ProgressStore {
	case ProgressStoreMemory, ProgressStoreBolt:
	default:
		return fmt.Errorf(
			"unknown progress store %q (want %s or %s)",
			c.ProgressStore, ProgressStoreMemory, ProgressStoreBolt,
		)
	}
	if c.StockSyncInterval < 0 {
		return fmt.Errorf(
			"stock sync interval %s is negative", c.StockSyncInterval,
		)
	}
	return nil
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.String("stock-api-url", "", "Fallback Stock API URL")
	fs.Int("page-size", 50, "Default remote page size")
	fs.String(
		"progress-store", ProgressStoreMemory,
		"Where sync progress lives: memory or bolt",
	)
	fs.Duration(
		"stock-sync-interval", 0,
		"Run a stock-only sync this often (0 disables)",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "stock-api-url":
			cfg.StockAPIURL = f.Value.String()
		case "page-size":
			cfg.PageSize, _ = strconv.Atoi(f.Value.String())
		case "progress-store":
			cfg.ProgressStore = f.Value.String()
		case "stock-sync-interval":
			cfg.StockSyncInterval, err = time.ParseDuration(
				f.Value.String(),
			)
		}
	})
	return err
}
