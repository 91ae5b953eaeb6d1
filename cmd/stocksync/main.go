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
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/wesm/stocksync/internal/config"
	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/metrics"
	"github.com/wesm/stocksync/internal/movement"
	"github.com/wesm/stocksync/internal/server"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "sync":
			runSync(os.Args[2:])
			return
		case "stock":
			runStock(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "progress":
			runProgress(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("stocksync %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`stocksync %s - local catalog mirror for a Stock inventory API

Pulls products, variants and stock levels from Stock into SQLite
and posts material issues and finished-goods receipts back.

Usage:
  stocksync [flags]             Start the server (default command)
  stocksync serve [flags]       Start the server (explicit)
  stocksync sync [flags]        Sync every catalog page via a running server
  stocksync stock [flags]       Sync stock levels only via a running server
  stocksync status [flags]      Show the last sync status
  stocksync progress [flags]    Show live sync progress
  stocksync version             Show version information
  stocksync help                Show this help

Server flags:
  -host string                Host to bind to (default "127.0.0.1")
  -port int                   Port to listen on (default 8080)
  -stock-api-url string       Fallback Stock API URL
  -page-size int              Default remote page size (default 50)
  -progress-store string      memory or bolt (default "memory")
  -stock-sync-interval dur    Periodic stock-only sync (0 disables)

Client flags:
  -server string      Server base URL (default from host/port config)
  -mode string        sync: full or incremental (default "incremental")
  -since string       sync: only products updated after (RFC3339)

Environment variables:
  STOCKSYNC_DATA_DIR              Data directory (database, config)
  STOCK_API_URL                   Fallback Stock API URL
  STOCKSYNC_PROGRESS_STORE        memory or bolt
  STOCKSYNC_PAGE_SIZE             Default remote page size
  STOCKSYNC_STOCK_SYNC_INTERVAL   Periodic stock-only sync interval

Stock credentials are stored with PUT /api/v1/settings/stock.
Data is stored in ~/.stocksync/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	setupLogFile(cfg.DataDir)
	database := mustOpenDB(cfg)
	defer database.Close()

	store, closeStore := mustOpenProgressStore(cfg)
	defer closeStore()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	tracker := sync.NewTracker(store, cfg.RecentCapacity)
	recovered, err := tracker.RecoverInterrupted(ctx)
	if err != nil {
		log.Fatalf("reading sync progress: %v", err)
	}
	if recovered {
		log.Println("Previous sync was interrupted; progress reset")
	}

	m := metrics.New()
	resolver := stock.NewResolver(
		database, cfg.StockAPIURL,
		stock.WithTimeout(cfg.RequestTimeout),
	)
	driver := sync.NewDriver(
		database, resolver, tracker,
		sync.WithPageSize(cfg.PageSize),
		sync.WithMetrics(m),
	)
	reconciler := movement.NewReconciler(database, resolver, m)

	if cfg.StockSyncInterval > 0 {
		go startPeriodicStockSync(ctx, driver, cfg.StockSyncInterval)
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database, driver, reconciler, resolver,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
		server.WithMetrics(m),
	)

	fmt.Printf(
		"stocksync %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
		sctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("stocksync", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: stocksync [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return database
}

// openProgressStore picks the progress backend. The returned
// close func is never nil.
func openProgressStore(
	cfg config.Config,
) (sync.ProgressStore, func(), error) {
	switch cfg.ProgressStore {
	case "", config.ProgressStoreMemory:
		return sync.NewMemoryProgressStore(), func() {}, nil
	case config.ProgressStoreBolt:
		s, err := sync.OpenBoltProgressStore(cfg.ProgressPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Printf("closing progress store: %v", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf(
		"unknown progress store %q", cfg.ProgressStore,
	)
}

func mustOpenProgressStore(
	cfg config.Config,
) (sync.ProgressStore, func()) {
	store, closeFn, err := openProgressStore(cfg)
	if err != nil {
		log.Fatalf("opening progress store: %v", err)
	}
	return store, closeFn
}

func startPeriodicStockSync(
	ctx context.Context, driver *sync.Driver, interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p, err := driver.Tracker().Read(ctx); err == nil &&
			p.Phase.Active() {
			log.Println("Scheduled stock sync skipped: catalog sync running")
			continue
		}
		log.Println("Running scheduled stock sync...")
		res, err := driver.SyncStockLevels(ctx)
		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			log.Println("Scheduled stock sync skipped: sync in progress")
			continue
		case err != nil:
			log.Printf("scheduled stock sync: %v", err)
			continue
		}
		log.Printf(
			"Scheduled stock sync: %d updated, %d error(s)",
			res.Updated, len(res.Errors),
		)
	}
}
