/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Initialize the zap logger
  3. Open the storage backend chosen by STORAGE_DRIVER
  4. Seed the item catalog on an empty database
  5. Open the stock snapshot file
  6. Wire ledger, registry and the shift-close pipeline
  7. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to a .env file (default: .env, optional)
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for an in-memory database
  -token   Print a bearer token for "name:role" and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the storage backend
  4. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server

  # Run against Postgres
  STORAGE_DRIVER=postgres POSTGRES_DSN="host=localhost user=bar dbname=bar" ./server

  # Token for a terminal session
  ./server -token "Grace:Manager"

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - report/service.go: Shift-close pipeline
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/safebar/stockledger/api"
	"github.com/safebar/stockledger/catalog"
	"github.com/safebar/stockledger/config"
	"github.com/safebar/stockledger/logger"
	"github.com/safebar/stockledger/metrics"
	"github.com/safebar/stockledger/report"
	"github.com/safebar/stockledger/snapshot"
	"github.com/safebar/stockledger/stock"
	memstore "github.com/safebar/stockledger/stock/store"
	"github.com/safebar/stockledger/store/postgres"
	"github.com/safebar/stockledger/store/rest"
	"github.com/safebar/stockledger/store/sqlite"
)

func main() {
	// Flags
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	token := flag.String("token", "", `Print a bearer token for "name:role" and exit`)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.SQLitePath = *dbPath
	}

	verifier := api.NewTokenVerifier(cfg.JWT.Secret, cfg.App.Name)
	if *token != "" {
		if err := printToken(verifier, *token); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.App.Env,
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, verifier, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, verifier *api.TokenVerifier, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	backend, err := openBackend(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.Seed.Catalog {
		cat, err := catalog.Load(cfg.Seed.CatalogFile)
		if err != nil {
			return err
		}
		n, err := catalog.Seed(ctx, backend, cat)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("seeded item catalog", zap.Int("items", n), zap.String("currency", cat.Currency))
		}
	}

	cache, err := snapshot.Open(cfg.Snapshot.File, cfg.Snapshot.BackupDir, snapshot.WithLogger(log))
	if err != nil {
		return err
	}

	mode, err := stock.ParseRolloverMode(cfg.Ledger.RolloverMode)
	if err != nil {
		return err
	}
	policy, err := report.ParseDrinksPolicy(cfg.Report.DrinksPolicy)
	if err != nil {
		return err
	}

	ledger := stock.NewLedger(backend,
		stock.WithRolloverMode(mode),
		stock.WithOpeningCache(cache),
		stock.WithLogger(log))
	m := metrics.New(strings.ReplaceAll(cfg.App.Name, "-", "_"))

	// Shift-close pipeline
	var dispatcher report.Dispatcher
	if cfg.SMTP.Enabled() {
		dispatcher = report.NewMailer(report.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Pass,
			FromName: cfg.SMTP.FromName,
			To:       cfg.SMTP.To,
			Exponent: cfg.Currency.Exponent,
			Timeout:  cfg.SMTP.Timeout,
		})
	} else {
		log.Warn("SMTP not configured; reports are saved but not mailed")
	}
	sink := report.NewSink(
		report.ExcelRenderer{Title: cfg.App.BusinessName, Exponent: cfg.Currency.Exponent},
		dispatcher, cache, cfg.Report.Dir)
	aggregator := report.NewAggregator(backend,
		report.WithDrinksPolicy(policy),
		report.WithAggregatorLogger(log))
	reports := report.NewService(ledger, aggregator, sink,
		report.WithObserver(m),
		report.WithServiceLogger(log))

	// Initialize handler
	handler := api.NewHandler(api.HandlerConfig{
		Ledger:   ledger,
		Registry: stock.NewRegistry(backend),
		Reports:  reports,
		Metrics:  m,
		Exponent: cfg.Currency.Exponent,
	})

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		Metrics:        m,
		Verifier:       verifier,
		RateLimiter:    api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.App.RequestTTL,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("rollover_mode", string(mode)),
			zap.String("drinks_policy", string(policy)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openBackend(cfg config.StorageConfig, log *zap.Logger) (stock.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		return memstore.NewMemory(), nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("opened SQLite database", zap.String("path", cfg.SQLitePath))
		return s, nil
	case config.DriverPostgres:
		return postgres.Open(cfg.PostgresDSN, log)
	case config.DriverREST:
		return rest.New(rest.Config{
			BaseURL: cfg.RestURL,
			APIKey:  cfg.RestAPIKey,
			Timeout: cfg.RestTimeout,
			RPS:     cfg.RestRPS,
			Burst:   cfg.RestBurst,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func printToken(v *api.TokenVerifier, spec string) error {
	name, role, ok := strings.Cut(spec, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return errors.New(`-token wants "name:role"`)
	}
	actor := stock.Actor{Name: strings.TrimSpace(name), Role: stock.Role(strings.TrimSpace(role))}
	switch actor.Role {
	case stock.RoleManager, stock.RoleSupervisor, stock.RoleBarstaff:
	default:
		return fmt.Errorf("unknown role %q (want Manager, Supervisor or Barstaff)", role)
	}
	token, err := v.Issue(actor, 12*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
