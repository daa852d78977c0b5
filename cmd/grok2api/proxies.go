package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mouseww/grok2api-pro/pkg/cli"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/proxypool"
	"github.com/Mouseww/grok2api-pro/pkg/store"
	"github.com/Mouseww/grok2api-pro/pkg/upstream"
)

var proxiesFlags struct {
	output string
}

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Inspect and probe the proxy pool",
	Long: `Inspect the persisted proxy pool and probe proxy health directly,
without going through a running server.

Examples:
  # List known proxies
  grok2api proxies list

  # Probe every known proxy and report reachability
  grok2api proxies check`,
}

var proxiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known proxies",
	RunE:  runProxiesList,
}

var proxiesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every known proxy",
	RunE:  runProxiesCheck,
}

func init() {
	rootCmd.AddCommand(proxiesCmd)
	proxiesCmd.AddCommand(proxiesListCmd)
	proxiesCmd.AddCommand(proxiesCheckCmd)

	proxiesCmd.PersistentFlags().StringVarP(&proxiesFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

func openProxyPool(ctx context.Context) (*proxypool.Pool, func(), error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	st, err := store.Open(&cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	probeCfg := cfg.Upstream
	if cfg.Proxies.ProbeURL != "" {
		probeCfg.BaseURL = cfg.Proxies.ProbeURL
	}
	prober := upstream.NewClient(&probeCfg, upstream.NewHTTPTransport(0))

	pool, err := proxypool.NewPool(ctx, cfg.Proxies, st, nil, prober)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return pool, func() { st.Close() }, nil
}

func runProxiesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, closeStore, err := openProxyPool(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	proxies := pool.List()
	format := cli.OutputFormat(proxiesFlags.output)

	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(os.Stdout, proxies)
	case cli.FormatCSV:
		table := &cli.Table{Headers: []string{"address", "origin", "health", "consecutive_failures"}}
		for _, px := range proxies {
			table.Rows = append(table.Rows, []string{
				px.Address,
				string(px.Origin),
				string(px.Health),
				fmt.Sprintf("%d", px.ConsecutiveFailures),
			})
		}
		return cli.NewFormatter(format).FormatTo(os.Stdout, table)
	default:
		if len(proxies) == 0 {
			fmt.Println("no proxies")
			return nil
		}
		for _, px := range proxies {
			fmt.Printf("%-40s %-8s %-10s failures=%d\n",
				px.Address, px.Origin, px.Health, px.ConsecutiveFailures)
		}
		return nil
	}
}

func runProxiesCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, closeStore, err := openProxyPool(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	proxies := pool.List()
	if len(proxies) == 0 {
		fmt.Println("no proxies to check")
		return nil
	}

	progress := cli.NewProgressReporter(os.Stdout)
	progress.Start(int64(len(proxies)))

	results := make([]*proxypool.HealthResult, 0, len(proxies))
	for i, px := range proxies {
		result, err := pool.HealthCheck(ctx, px.Address)
		if err != nil {
			progress.Error(err)
			continue
		}
		results = append(results, result)
		progress.Update(int64(i + 1))
	}
	progress.Finish()

	healthy := 0
	for _, result := range results {
		if result.Healthy {
			healthy++
		}
	}
	fmt.Printf("%d/%d proxies healthy\n", healthy, len(proxies))

	if cli.OutputFormat(proxiesFlags.output) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, results)
	}
	return nil
}
