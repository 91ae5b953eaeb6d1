package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/stocksync/internal/apiclient"
	"github.com/wesm/stocksync/internal/config"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

// SyncConfig holds parsed CLI options for the sync command.
type SyncConfig struct {
	Server       string
	Mode         stock.Mode
	UpdatedAfter time.Time
}

// defaultServerURL points at the server the local config would
// start.
func defaultServerURL() string {
	cfg, err := config.LoadMinimal()
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func registerServerFlag(fs *flag.FlagSet) *string {
	return fs.String(
		"server", "",
		"Server base URL (default from host/port config)",
	)
}

func resolveServer(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return defaultServerURL()
}

func parseSyncFlags(args []string) (SyncConfig, error) {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	srv := registerServerFlag(fs)
	mode := fs.String(
		"mode", string(stock.ModeIncremental),
		"full or incremental",
	)
	since := fs.String(
		"since", "",
		"Only products updated after this time (RFC3339)",
	)
	if err := fs.Parse(args); err != nil {
		return SyncConfig{}, err
	}

	m, ok := stock.ParseMode(*mode)
	if !ok {
		return SyncConfig{}, fmt.Errorf(
			"invalid mode %q: use %q or %q",
			*mode, stock.ModeIncremental, stock.ModeFull,
		)
	}
	cfg := SyncConfig{Server: *srv, Mode: m}
	if *since != "" {
		if m == stock.ModeFull {
			return SyncConfig{}, fmt.Errorf(
				"-since only applies to incremental syncs",
			)
		}
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return SyncConfig{}, fmt.Errorf("invalid -since: %w", err)
		}
		cfg.UpdatedAfter = t
	}
	return cfg, nil
}

// Syncer runs client-side commands against a stocksync server.
type Syncer struct {
	Client *apiclient.Client
	Out    io.Writer
}

// SyncAll walks every page and prints a line per page.
func (s *Syncer) SyncAll(ctx context.Context, cfg SyncConfig) error {
	fmt.Fprintf(s.Out, "Syncing catalog (%s)...\n", cfg.Mode)
	sum, err := s.Client.SyncAll(
		ctx, cfg.Mode, cfg.UpdatedAfter,
		func(r sync.PageResult) {
			fmt.Fprintf(s.Out,
				"  page %d/%d: %d created, %d updated, %d skipped\n",
				r.Page, r.TotalPages, r.ProductsCreated,
				r.ProductsUpdated, r.ProductsSkipped,
			)
		},
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out,
		"Sync complete: %d products over %d page(s) "+
			"(%d created, %d updated, %d skipped)\n",
		sum.TotalCount, sum.Pages, sum.ProductsCreated,
		sum.ProductsUpdated, sum.ProductsSkipped,
	)
	writeErrors(s.Out, sum.Errors)
	return nil
}

// SyncStock runs a stock-only sync.
func (s *Syncer) SyncStock(ctx context.Context) error {
	res, err := s.Client.SyncStock(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Stock levels updated: %d\n", res.Updated)
	writeErrors(s.Out, res.Errors)
	return nil
}

// Status prints the persisted sync status as JSON.
func (s *Syncer) Status(ctx context.Context) error {
	status, err := s.Client.Status(ctx)
	if err != nil {
		return err
	}
	return writeIndented(s.Out, status)
}

// Progress prints the live progress snapshot as JSON.
func (s *Syncer) Progress(ctx context.Context) error {
	p, err := s.Client.Progress(ctx)
	if err != nil {
		return err
	}
	return writeIndented(s.Out, p)
}

func writeErrors(w io.Writer, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "%d item(s) reported errors:\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSyncer(server string) *Syncer {
	return &Syncer{
		Client: apiclient.New(resolveServer(server)),
		Out:    os.Stdout,
	}
}

func runSync(args []string) {
	cfg, err := parseSyncFlags(args)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newSyncer(cfg.Server).SyncAll(ctx, cfg); err != nil {
		log.Fatalf("sync: %v", err)
	}
}

// runClientCommand parses the shared -server flag and runs fn.
func runClientCommand(
	name string, args []string,
	fn func(*Syncer, context.Context) error,
) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	srv := registerServerFlag(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := fn(newSyncer(*srv), ctx); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

func runStock(args []string) {
	runClientCommand("stock", args, (*Syncer).SyncStock)
}

func runStatus(args []string) {
	runClientCommand("status", args, (*Syncer).Status)
}

func runProgress(args []string) {
	runClientCommand("progress", args, (*Syncer).Progress)
}
