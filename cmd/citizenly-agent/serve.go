package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jasperlepardo/citizenly-sub012/internal/admin"
	"github.com/jasperlepardo/citizenly-sub012/internal/cache"
	"github.com/jasperlepardo/citizenly-sub012/internal/config"
	"github.com/jasperlepardo/citizenly-sub012/internal/datalayer"
	"github.com/jasperlepardo/citizenly-sub012/internal/logging"
	"github.com/jasperlepardo/citizenly-sub012/internal/netstatus"
	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline data layer agent",
	Long: `Run the agent in the foreground.

The agent probes backend reachability, drains the sync outbox whenever
connectivity returns or on the flush interval, sweeps expired cache
entries, and serves the local admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		return runServe(cfg, logger)
	},
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting citizenly-agent",
		zap.String("store", cfg.Storage.Path),
		zap.String("backend", cfg.Sync.BaseURL))

	s, err := store.Open(cfg.Storage.Path, logger.Named("store"))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return err
	}

	monitor := netstatus.NewMonitor(netstatus.MonitorConfig{
		HealthURL: cfg.Sync.BaseURL + cfg.Network.HealthPath,
		Interval:  cfg.Network.ProbeInterval,
		Timeout:   cfg.Network.ProbeTimeout,
	}, logger.Named("netstatus"))

	queryCache := cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
	})

	client := &outbox.Client{
		BaseURL: cfg.Sync.BaseURL,
		Tokens:  outbox.StaticToken(cfg.Sync.Token),
	}
	queue := outbox.New(s, client, monitor, outbox.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		ItemDelay:  cfg.Sync.ItemDelay,
	}, logger.Named("outbox"))

	service := datalayer.New(s, queryCache, queue, logger.Named("datalayer"))
	deviceID, err := service.DeviceID(ctx)
	if err != nil {
		return err
	}
	logger.Info("agent identity", zap.String("device_id", deviceID))

	go monitor.Start(ctx)

	// Periodic hygiene and flush retries.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(every(cfg.Sync.FlushInterval), func() {
		if err := queue.ProcessQueue(context.Background()); err != nil {
			logger.Warn("scheduled flush failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule flush: %w", err)
	}
	if _, err := scheduler.AddFunc(every(cfg.Cache.CleanupInterval), func() {
		if n := queryCache.Cleanup(); n > 0 {
			logger.Debug("query cache cleanup", zap.Int("removed", n))
		}
		n, err := s.SweepExpiredCache(context.Background())
		if err != nil {
			logger.Warn("kv cache sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("kv cache sweep", zap.Int("removed", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := admin.NewHandler(queue, s, logger.Named("admin"))
	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.String("addr", cfg.Server.Addr()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// every renders a duration as a cron @every expression.
func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
