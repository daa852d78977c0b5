package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/cli"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/media"
	"github.com/Mouseww/grok2api-pro/pkg/orchestrator"
	"github.com/Mouseww/grok2api-pro/pkg/proxypool"
	"github.com/Mouseww/grok2api-pro/pkg/server"
	"github.com/Mouseww/grok2api-pro/pkg/store"
	"github.com/Mouseww/grok2api-pro/pkg/stream"
	"github.com/Mouseww/grok2api-pro/pkg/telemetry/logging"
	"github.com/Mouseww/grok2api-pro/pkg/telemetry/metrics"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
	"github.com/Mouseww/grok2api-pro/pkg/video"
)

// gaugeInterval is how often pool and task gauges are refreshed.
const gaugeInterval = 15 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server with the specified configuration.

The server listens on the configured address and translates OpenAI-compatible
chat, image, and video calls into upstream conversations through the
credential and proxy pools.

Examples:
  # Start with default config
  grok2api run

  # Start with custom config
  grok2api run --config /etc/grok2api/config.yaml

  # Override listen address
  grok2api run --listen 0.0.0.0:8180

  # Validate config without starting the server
  grok2api run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logging.Setup(cfg.Telemetry.Logging)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("grok2api v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence facade
	st, err := store.Open(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	fmt.Printf("✓ Store opened (%s)\n", cfg.Storage.Backend)

	// Upstream client and transport
	transport := upstream.NewHTTPTransport(0)
	client := upstream.NewClient(&cfg.Upstream, transport)

	// Health probes can target a lighter URL than the conversation API.
	prober := client
	if cfg.Proxies.ProbeURL != cfg.Upstream.BaseURL {
		probeCfg := cfg.Upstream
		probeCfg.BaseURL = cfg.Proxies.ProbeURL
		prober = upstream.NewClient(&probeCfg, transport)
	}

	var source proxypool.Source
	if cfg.Proxies.PoolURL != "" {
		source = proxypool.NewHTTPSource(cfg.Proxies.PoolURL)
	}

	proxies, err := proxypool.NewPool(ctx, cfg.Proxies, st, source, prober)
	if err != nil {
		return fmt.Errorf("failed to build proxy pool: %w", err)
	}

	accounts, err := account.NewPool(ctx, cfg.Accounts, st)
	if err != nil {
		return fmt.Errorf("failed to build account pool: %w", err)
	}
	fmt.Printf("✓ Pools loaded (%d accounts, %d proxies)\n", len(accounts.List()), len(proxies.List()))

	recorder, err := calllog.NewRecorder(cfg.CallLog, st)
	if err != nil {
		return fmt.Errorf("failed to start call log: %w", err)
	}
	defer recorder.Close()

	orch := orchestrator.New(cfg.Upstream, accounts, proxies, recorder)

	cache, err := media.NewCache(cfg.Media)
	if err != nil {
		return fmt.Errorf("failed to open media cache: %w", err)
	}
	fetcher := media.NewFetcher(cache, client, cfg.Media.DownloadTimeout)
	processor := stream.NewProcessor(cfg.Stream, fetcher)

	gateway := server.NewVideoGateway(orch, client, processor)
	videos, err := video.NewManager(ctx, cfg.Video, st, gateway, gateway, fetcher)
	if err != nil {
		return fmt.Errorf("failed to build video manager: %w", err)
	}

	collector := metrics.NewCollector(cfg.Telemetry.Metrics)
	orch.SetMetrics(collector)

	// Background loops: pool flushing, video polling, proxy refresh,
	// gauge updates.
	go accounts.Run(ctx)
	go videos.Run(ctx)
	go runGauges(ctx, collector, accounts, proxies, cache, videos)

	scheduler := cron.New()
	if source != nil {
		if _, err := scheduler.AddFunc(cfg.Proxies.RefreshSchedule, func() {
			if err := proxies.RefreshFromSource(ctx); err != nil {
				slog.Error("proxy refresh failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid proxy refresh schedule: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Config hot reload re-applies pool thresholds without a restart.
	watcher, err := config.NewWatcher(cfgFile)
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		go func() {
			_ = watcher.Watch(ctx, func(updated *config.Config) {
				accounts.SetConfig(updated.Accounts)
				proxies.SetConfig(updated.Proxies)
				slog.Info("configuration reloaded", "path", cfgFile)
			})
		}()
	}

	srv := server.NewServer(cfg.Server, server.Deps{
		Accounts:     accounts,
		Proxies:      proxies,
		Orchestrator: orch,
		Upstream:     client,
		Processor:    processor,
		Fetcher:      fetcher,
		Videos:       videos,
		CallLog:      recorder,
		Metrics:      collector,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}

		fmt.Println("✓ Server stopped")
		return nil
	}
}

// runGauges refreshes the pool and task gauges on a fixed interval.
func runGauges(ctx context.Context, collector *metrics.Collector, accounts *account.Pool, proxies *proxypool.Pool, cache *media.Cache, videos *video.Manager) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accountCounts := make(map[string]int)
			for _, acct := range accounts.List() {
				accountCounts[string(acct.Status)]++
			}
			collector.SetAccounts(accountCounts)

			proxyCounts := make(map[string]int)
			for _, px := range proxies.List() {
				proxyCounts[string(px.Health)]++
			}
			collector.SetProxies(proxyCounts)

			collector.SetMediaArtifacts(cache.Len())
			collector.SetVideoTasks(videos.StatusCounts())
		}
	}
}
