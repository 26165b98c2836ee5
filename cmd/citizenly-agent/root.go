package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jasperlepardo/citizenly-sub012/internal/config"
	"github.com/jasperlepardo/citizenly-sub012/internal/logging"
	"github.com/jasperlepardo/citizenly-sub012/internal/netstatus"
	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
	"github.com/jasperlepardo/citizenly-sub012/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "citizenly-agent",
	Short: "Offline data layer agent for Citizenly",
	Long: `citizenly-agent keeps the Citizenly client working while disconnected.

It maintains the durable on-device record store, queues mutations made
offline, and replays them against the backend once connectivity returns.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(versionCmd)
}

// env bundles the wired components the one-shot commands share.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	queue  *outbox.Queue
	net    *netstatus.Static
}

// setup loads config, opens and migrates the store, and wires the sync
// queue with a one-shot reachability probe. Callers must defer close.
func setup(ctx context.Context) (*env, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(cfg.Storage.Path, logger.Named("store"))
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	// One-shot probe: a command run decides reachability once up front.
	net := netstatus.NewStatic(probe(ctx, cfg))

	client := &outbox.Client{
		BaseURL: cfg.Sync.BaseURL,
		Tokens:  outbox.StaticToken(cfg.Sync.Token),
	}
	queue := outbox.New(s, client, net, outbox.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		ItemDelay:  cfg.Sync.ItemDelay,
	}, logger.Named("outbox"))

	cleanup := func() {
		_ = s.Close()
		_ = logger.Sync()
	}
	return &env{cfg: cfg, logger: logger, store: s, queue: queue, net: net}, cleanup, nil
}

// probe checks the backend health endpoint once.
func probe(ctx context.Context, cfg *config.Config) bool {
	url := cfg.Sync.BaseURL + cfg.Network.HealthPath
	client := &http.Client{Timeout: cfg.Network.ProbeTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
