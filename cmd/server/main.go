/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Open the store (SQLite file or in-memory)
  4. Load eligibility thresholds
  5. Create API handler and router
  6. Start the absence scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port        HTTP server port
  -db          SQLite database path, or "memory" for the in-memory store
  -thresholds  Eligibility thresholds JSON file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/attendance.db"
  ./server -db=memory -port=3000
  ORG_TIMEZONE=America/Monterrey ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/generic/store"
	"github.com/warp/attendance-engine/logging"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.HTTP.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Store.Path, `SQLite database path, or "memory"`)
	thresholds := flag.String("thresholds", cfg.Attendance.ThresholdsFile, "eligibility thresholds JSON file")
	flag.Parse()
	cfg.HTTP.Port = *port
	cfg.Store.Path = *dbPath
	cfg.Attendance.ThresholdsFile = *thresholds

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	clock, err := generic.NewOrgClock(cfg.Attendance.Timezone)
	if err != nil {
		return err
	}

	// Initialize store
	hcfg := api.HandlerConfig{
		Clock:            clock,
		ReconcileTimeout: cfg.Attendance.Timeout,
		MaxRetries:       cfg.Attendance.MaxRetries,
		Logger:           logger,
		Lateness:         latenessConfig(cfg.Attendance),
	}
	if cfg.Store.InMemory() {
		mem := store.NewMemory()
		hcfg.Store, hcfg.Resetter, hcfg.Audit = mem, mem, store.NewMemoryAudit()
		logger.Info("using in-memory store")
	} else {
		db, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer db.Close()
		hcfg.Store, hcfg.Resetter, hcfg.Audit = db, db, db
		logger.Info("using sqlite store", "path", cfg.Store.Path)
	}

	policy, err := factory.NewThresholdFactory().LoadFile(cfg.Attendance.ThresholdsFile)
	if err != nil {
		return fmt.Errorf("load thresholds: %w", err)
	}
	hcfg.Policy = policy

	handler, err := api.NewHandler(hcfg)
	if err != nil {
		return err
	}

	handler.Scheduler.Spec = cfg.Scheduler.AbsenceCron
	handler.Scheduler.Lookback = time.Duration(cfg.Scheduler.LookbackDays) * 24 * time.Hour
	handler.Scheduler.Enabled = cfg.Scheduler.Enabled
	if err := handler.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.NewRouter(handler, cfg.HTTP.AllowedOrigins()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr, "timezone", cfg.Attendance.Timezone, "scheduler", cfg.Scheduler.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		handler.Scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	handler.Scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func latenessConfig(c config.AttendanceConfig) attendance.LatenessConfig {
	starts := make(map[attendance.Category]string, len(c.CategoryStarts))
	for cat, hhmm := range c.CategoryStarts {
		starts[attendance.Category(cat)] = hhmm
	}
	return attendance.LatenessConfig{
		Grace:          c.LateGrace,
		DefaultStart:   c.DefaultStart,
		CategoryStarts: starts,
	}
}
