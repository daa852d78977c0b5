package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/calllog"
	"github.com/Mouseww/grok2api-pro/pkg/cli"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/store"
)

var calllogFlags struct {
	output       string
	limit        int
	model        string
	credentialID string
}

var calllogCmd = &cobra.Command{
	Use:   "calllog",
	Short: "Query the persisted call log",
	Long: `Query the persisted call log directly, without going through a running
server.

Examples:
  # Show the most recent entries
  grok2api calllog query --limit 50

  # Show entries for one model as CSV
  grok2api calllog query --model grok-3 --output csv

  # Show aggregate statistics
  grok2api calllog stats`,
}

var calllogQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List call log entries, newest first",
	RunE:  runCallLogQuery,
}

var calllogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate call statistics",
	RunE:  runCallLogStats,
}

func init() {
	rootCmd.AddCommand(calllogCmd)
	calllogCmd.AddCommand(calllogQueryCmd)
	calllogCmd.AddCommand(calllogStatsCmd)

	calllogCmd.PersistentFlags().StringVarP(&calllogFlags.output, "output", "o", "text", "output format (text, json, csv)")
	calllogQueryCmd.Flags().IntVar(&calllogFlags.limit, "limit", 50, "maximum entries to return")
	calllogQueryCmd.Flags().StringVar(&calllogFlags.model, "model", "", "filter by model")
	calllogQueryCmd.Flags().StringVar(&calllogFlags.credentialID, "credential", "", "filter by credential")
}

// openCallLogBackend opens the configured call log backend directly; the
// async recorder and its prune schedule are not needed for reads.
func openCallLogBackend() (calllog.Backend, func(), error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.CallLog.Backend == "sqlite" {
		backend, err := calllog.NewSQLiteBackend(cfg.CallLog.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close() }, nil
	}

	st, err := store.Open(&cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return calllog.NewStoreBackend(st), func() { st.Close() }, nil
}

func runCallLogQuery(cmd *cobra.Command, args []string) error {
	backend, closeBackend, err := openCallLogBackend()
	if err != nil {
		return err
	}
	defer closeBackend()

	entries, err := backend.Query(context.Background(), calllog.Filter{
		CredentialID: calllogFlags.credentialID,
		Model:        calllogFlags.model,
		Limit:        calllogFlags.limit,
	})
	if err != nil {
		return cli.NewCommandError("calllog query", err)
	}

	format := cli.OutputFormat(calllogFlags.output)
	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(os.Stdout, entries)
	case cli.FormatCSV:
		table := &cli.Table{Headers: []string{"timestamp", "credential", "model", "proxy", "success", "status", "latency_ms", "error"}}
		for _, e := range entries {
			table.Rows = append(table.Rows, []string{
				e.Timestamp.Format(time.RFC3339),
				account.Redact(e.CredentialID),
				e.Model,
				e.ProxyAddress,
				strconv.FormatBool(e.Success),
				strconv.Itoa(e.StatusCode),
				strconv.FormatInt(e.Latency.Milliseconds(), 10),
				e.Error,
			})
		}
		return cli.NewFormatter(format).FormatTo(os.Stdout, table)
	default:
		if len(entries) == 0 {
			fmt.Println("no entries")
			return nil
		}
		for _, e := range entries {
			outcome := "ok"
			if !e.Success {
				outcome = fmt.Sprintf("fail(%d)", e.StatusCode)
			}
			fmt.Printf("%s %-16s %-20s %-8s %s\n",
				e.Timestamp.Format(time.RFC3339),
				account.Redact(e.CredentialID),
				e.Model,
				outcome,
				e.Latency.Round(time.Millisecond))
		}
		return nil
	}
}

func runCallLogStats(cmd *cobra.Command, args []string) error {
	backend, closeBackend, err := openCallLogBackend()
	if err != nil {
		return err
	}
	defer closeBackend()

	stats, err := backend.Stats(context.Background())
	if err != nil {
		return cli.NewCommandError("calllog stats", err)
	}

	if cli.OutputFormat(calllogFlags.output) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, stats)
	}

	fmt.Printf("Total:     %d\n", stats.Total)
	fmt.Printf("Successes: %d\n", stats.Successes)
	fmt.Printf("Failures:  %d\n", stats.Failures)
	fmt.Printf("Avg latency: %s\n", stats.AvgLatency.Round(time.Millisecond))
	if len(stats.CallsByModel) > 0 {
		fmt.Println("By model:")
		for model, n := range stats.CallsByModel {
			fmt.Printf("  %-24s %d\n", model, n)
		}
	}
	return nil
}
