package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"STOCKSYNC_DATA_DIR",
	"STOCK_API_URL",
	"STOCKSYNC_PROGRESS_STORE",
	"STOCKSYNC_PAGE_SIZE",
	"STOCKSYNC_STOCK_SYNC_INTERVAL",
}

// setupTestEnv points the data dir at a fresh temp dir, runs in
// an empty working directory and clears every config variable.
// Values set by .env loading are undone at cleanup.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	t.Setenv("STOCKSYNC_DATA_DIR", dir)
	return dir
}

func writeConfig(t *testing.T, dir string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), b, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := setupTestEnv(t)

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if want := filepath.Join(dir, "catalog.db"); cfg.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want)
	}
	if want := filepath.Join(dir, "progress.db"); cfg.ProgressPath != want {
		t.Errorf("ProgressPath = %q, want %q", cfg.ProgressPath, want)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.PageSize)
	}
	if cfg.ProgressStore != ProgressStoreMemory {
		t.Errorf("ProgressStore = %q, want memory", cfg.ProgressStore)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %s, want 30s", cfg.RequestTimeout)
	}
	if cfg.StockAPIURL != "" {
		t.Errorf("StockAPIURL = %q, want empty", cfg.StockAPIURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := setupTestEnv(t)
	writeConfig(t, dir, map[string]any{
		"port":                9090,
		"stock_api_url":       "http://file",
		"request_timeout":     "5s",
		"page_size":           120,
		"progress_store":      "bolt",
		"recent_capacity":     25,
		"stock_sync_interval": "15m",
	})

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.StockAPIURL != "http://file" {
		t.Errorf("StockAPIURL = %q", cfg.StockAPIURL)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.PageSize != 120 || cfg.RecentCapacity != 25 {
		t.Errorf("PageSize, RecentCapacity = %d, %d", cfg.PageSize, cfg.RecentCapacity)
	}
	if cfg.ProgressStore != ProgressStoreBolt {
		t.Errorf("ProgressStore = %q", cfg.ProgressStore)
	}
	if cfg.StockSyncInterval != 15*time.Minute {
		t.Errorf("StockSyncInterval = %s", cfg.StockSyncInterval)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := setupTestEnv(t)
	writeConfig(t, dir, map[string]any{
		"stock_api_url": "http://file",
		"page_size":     120,
	})
	t.Setenv("STOCK_API_URL", "http://env")
	t.Setenv("STOCKSYNC_PAGE_SIZE", "30")
	t.Setenv("STOCKSYNC_PROGRESS_STORE", "bolt")

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.StockAPIURL != "http://env" {
		t.Errorf("StockAPIURL = %q, want env value", cfg.StockAPIURL)
	}
	if cfg.PageSize != 30 {
		t.Errorf("PageSize = %d, want 30", cfg.PageSize)
	}
	if cfg.ProgressStore != ProgressStoreBolt {
		t.Errorf("ProgressStore = %q, want bolt", cfg.ProgressStore)
	}
}

func TestDotEnvFiles(t *testing.T) {
	dir := setupTestEnv(t)
	writeFile(t, filepath.Join(dir, envFileName),
		"STOCK_API_URL=http://dotenv\nSTOCKSYNC_PAGE_SIZE=75\n")

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.StockAPIURL != "http://dotenv" {
		t.Errorf("StockAPIURL = %q, want .env value", cfg.StockAPIURL)
	}
	if cfg.PageSize != 75 {
		t.Errorf("PageSize = %d, want 75", cfg.PageSize)
	}
}

func TestDotEnvDoesNotOverrideRealEnv(t *testing.T) {
	dir := setupTestEnv(t)
	t.Setenv("STOCK_API_URL", "http://real")
	writeFile(t, filepath.Join(dir, envFileName),
		"STOCK_API_URL=http://dotenv\n")

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.StockAPIURL != "http://real" {
		t.Errorf("StockAPIURL = %q, want real env", cfg.StockAPIURL)
	}
}

func TestWorkingDirDotEnvMovesDataDir(t *testing.T) {
	setupTestEnv(t)
	os.Unsetenv("STOCKSYNC_DATA_DIR")
	dataDir := t.TempDir()
	writeFile(t, envFileName, "STOCKSYNC_DATA_DIR="+dataDir+"\n")
	writeConfig(t, dataDir, map[string]any{"port": 7070})

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dataDir)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070 from data dir config", cfg.Port)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad json", file: "{", wantErr: "parsing config"},
		{name: "bad timeout", file: `{"request_timeout":"soon"}`, wantErr: "request_timeout"},
		{name: "page size too big", file: `{"page_size":500}`, wantErr: "out of range"},
		{name: "unknown store", env: map[string]string{"STOCKSYNC_PROGRESS_STORE": "redis"}, wantErr: "unknown progress store"},
		{name: "bad env page size", env: map[string]string{"STOCKSYNC_PAGE_SIZE": "many"}, wantErr: "STOCKSYNC_PAGE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestEnv(t)
			if tt.file != "" {
				writeFile(t, filepath.Join(dir, configFileName), tt.file)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadMinimal()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("LoadMinimal error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFlagsOverride(t *testing.T) {
	dir := setupTestEnv(t)
	writeConfig(t, dir, map[string]any{"port": 9090, "page_size": 120})

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	RegisterServeFlags(fs)
	err := fs.Parse([]string{
		"-port", "8181",
		"-progress-store", "bolt",
		"-stock-sync-interval", "1h",
		"-stock-api-url", "http://flag",
	})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8181 {
		t.Errorf("Port = %d, want 8181", cfg.Port)
	}
	if cfg.PageSize != 120 {
		t.Errorf("PageSize = %d, want config file value 120", cfg.PageSize)
	}
	if cfg.ProgressStore != ProgressStoreBolt {
		t.Errorf("ProgressStore = %q, want bolt", cfg.ProgressStore)
	}
	if cfg.StockSyncInterval != time.Hour {
		t.Errorf("StockSyncInterval = %s, want 1h", cfg.StockSyncInterval)
	}
	if cfg.StockAPIURL != "http://flag" {
		t.Errorf("StockAPIURL = %q, want flag value", cfg.StockAPIURL)
	}
}

func TestLoadNilFlagSet(t *testing.T) {
	setupTestEnv(t)
	if _, err := Load(nil); err != nil {
		t.Fatalf("Load(nil): %v", err)
	}
}
