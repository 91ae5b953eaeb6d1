package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesm/stocksync/internal/config"
	"github.com/wesm/stocksync/internal/db"
	"github.com/wesm/stocksync/internal/metrics"
	"github.com/wesm/stocksync/internal/movement"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server exposing sync, movement and catalog
// operations as a JSON API.
type Server struct {
	mu         gosync.RWMutex
	cfg        config.Config
	db         *db.DB
	driver     *sync.Driver
	reconciler *movement.Reconciler
	resolver   *stock.Resolver
	metrics    *metrics.Metrics
	mux        *http.ServeMux
	httpSrv    *http.Server
	version    VersionInfo

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server.
func New(
	cfg config.Config, database *db.DB, driver *sync.Driver,
	reconciler *movement.Reconciler, resolver *stock.Resolver,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:        cfg,
		db:         database,
		driver:     driver,
		reconciler: reconciler,
		resolver:   resolver,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics exposes m on GET /metrics. Without it the route
// is not registered.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func (s *Server) routes() {
	s.handle("POST /api/v1/stock/test-connection", timedRoute,
		s.handleTestConnection)
	s.handle("GET /api/v1/settings/stock", timedRoute,
		s.handleGetStockSettings)
	s.handle("PUT /api/v1/settings/stock", timedRoute,
		s.handlePutStockSettings)

	s.handle("POST /api/v1/sync/page", remoteRoute, s.handleSyncPage)
	s.handle("POST /api/v1/sync/stock", remoteRoute, s.handleSyncStock)
	s.handle("POST /api/v1/sync/finish", timedRoute, s.handleSyncFinish)
	s.handle("GET /api/v1/sync/status", timedRoute, s.handleSyncStatus)
	s.handle("GET /api/v1/sync/progress", timedRoute,
		s.handleSyncProgress)

	s.handle("POST /api/v1/movements/issue", remoteRoute,
		s.handleIssueMaterials)
	s.handle("POST /api/v1/movements/receive", remoteRoute,
		s.handleReceiveFinished)
	s.handle("GET /api/v1/movements/usage", timedRoute, s.handleListUsage)

	s.handle("GET /api/v1/products", timedRoute, s.handleListProducts)
	s.handle("GET /api/v1/products/{sku}", timedRoute,
		s.handleGetProduct)
	s.handle("PUT /api/v1/products/{sku}/variants/{variant}/active",
		timedRoute, s.handleSetVariantActive)
	s.handle("GET /api/v1/stats", timedRoute, s.handleGetStats)
	s.handle("GET /api/v1/version", timedRoute, s.handleGetVersion)

	if reg := s.metrics.Registry(); reg != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(
			reg, promhttp.HandlerOpts{Registry: reg},
		))
	}
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(requestIDMiddleware(logMiddleware(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, PUT, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, X-Request-ID",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader carries the per-request id, echoed back on
// every response.
const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf(
				"%s %s [%s]",
				r.Method, r.URL.Path, r.Header.Get(requestIDHeader),
			)
		}
		next.ServeHTTP(w, r)
	})
}
