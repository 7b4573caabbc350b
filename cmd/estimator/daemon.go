package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/config"
	"github.com/piehlerb/job-estimator-sub000/internal/connectivity"
	"github.com/piehlerb/job-estimator-sub000/internal/coordinator"
	"github.com/piehlerb/job-estimator-sub000/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	daemonMetricsAddr string
	daemonNoWatch     bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync for this device",
	Long: "Sync on startup, every interval, after local edits, and when the " +
		"central server becomes reachable again. Runs until interrupted.",
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g. :9090)")
	daemonCmd.Flags().BoolVar(&daemonNoWatch, "no-watch", false,
		"Do not reload sync settings when the config file changes")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	if cfg.Remote.URL == "" {
		return errors.New("remote.url is required to run the sync daemon")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dev, err := openDevice(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer dev.Close()
	slog.Info("store initialized", "path", dev.local.Path())

	if _, ok := dev.session.CurrentUser(ctx); !ok {
		slog.Warn("no user signed in; sync is paused until `estimator auth login`",
			"component", "daemon",
		)
	}

	monitor := connectivity.NewMonitor(dev.remote, time.Duration(cfg.Sync.ConnectivityInterval),
		dev.coordinator.NotifyReconnect)

	unsubscribe := dev.coordinator.Subscribe(func(s coordinator.Status) {
		slog.Debug("sync status changed",
			"component", "daemon",
			"is_syncing", s.IsSyncing,
			"pending_changes", s.PendingChanges,
			"last_error", s.LastError,
		)
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	dev.coordinator.Start(gctx)

	if cfg.Sync.ConnectivityInterval > 0 {
		g.Go(func() error {
			monitor.Run(gctx)
			return nil
		})
	}

	if !daemonNoWatch {
		path := resolvedConfigPath()
		g.Go(func() error {
			err := config.Watch(gctx, path, func(next *config.Config) {
				dev.coordinator.SetInterval(time.Duration(next.Sync.Interval))
				dev.coordinator.SetDebounce(time.Duration(next.Sync.Debounce))
			})
			if err != nil {
				// The daemon still works without live reload.
				slog.Warn("config watch disabled",
					"component", "daemon",
					"path", path,
					"error", err,
				)
			}
			return nil
		})
	}

	if daemonMetricsAddr != "" {
		srv := &http.Server{
			Addr:              daemonMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server starting", "address", daemonMetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("sync daemon running",
		"component", "daemon",
		"remote", cfg.Remote.URL,
	)

	<-gctx.Done()
	slog.Info("shutdown initiated")
	dev.coordinator.Stop()
	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}
