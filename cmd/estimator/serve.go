package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/api"
	"github.com/piehlerb/job-estimator-sub000/internal/config"
	"github.com/piehlerb/job-estimator-sub000/internal/metrics"
	"github.com/piehlerb/job-estimator-sub000/internal/snapshot"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
	"github.com/piehlerb/job-estimator-sub000/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the central sync server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.Info("configuration loaded")

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	db, err := store.NewCentralStore(cfg.Central.Driver, centralSource(cfg.Central))
	if err != nil {
		return err
	}
	slog.Info("store initialized", "driver", db.Driver())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	uploader, err := snapshot.NewUploader(cfg.Snapshot)
	if err != nil {
		db.Close()
		return err
	}

	handler := api.NewHandler(db, cfg.Auth.APIKey, Version,
		api.WithHandlerMetrics(m),
		api.WithSnapshots(uploader),
	)
	router := api.NewRouter(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if db.Driver() == store.DriverSQLite && cfg.Snapshot.Interval > 0 {
		snapshots := worker.NewSnapshotCoordinator(db, time.Duration(cfg.Snapshot.Interval), uploader)
		startWorker(ctx, &wg, "snapshot", snapshots.Run)
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// centralSource picks the file path or DSN for the configured driver.
func centralSource(cfg config.CentralConfig) string {
	if cfg.Driver == store.DriverPostgres {
		return cfg.DSN
	}
	return cfg.Path
}
