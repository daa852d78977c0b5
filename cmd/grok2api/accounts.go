package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Mouseww/grok2api-pro/pkg/account"
	"github.com/Mouseww/grok2api-pro/pkg/cli"
	"github.com/Mouseww/grok2api-pro/pkg/config"
	"github.com/Mouseww/grok2api-pro/pkg/store"
)

var accountsFlags struct {
	output string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and manage persisted credentials",
	Long: `Inspect and manage the credential pool directly through the persisted
store, without going through a running server.

Examples:
  # List credentials
  grok2api accounts list

  # List credentials as JSON
  grok2api accounts list --output json

  # Add a credential
  grok2api accounts add <token>

  # Remove a credential
  grok2api accounts remove <token>`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted credentials",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <token>",
	Short: "Add a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <token>",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)

	accountsCmd.PersistentFlags().StringVarP(&accountsFlags.output, "output", "o", "text", "output format (text, json, csv)")
}

// openAccountPool loads the config and opens the credential pool over the
// persisted store. The returned close function must be called.
func openAccountPool(ctx context.Context) (*account.Pool, func(), error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	st, err := store.Open(&cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	pool, err := account.NewPool(ctx, cfg.Accounts, st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return pool, func() { st.Close() }, nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, closeStore, err := openAccountPool(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	accounts := pool.List()
	format := cli.OutputFormat(accountsFlags.output)

	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(os.Stdout, accounts)
	case cli.FormatCSV:
		table := &cli.Table{Headers: []string{"token", "status", "consecutive_failures", "total_calls", "total_failures"}}
		for _, acct := range accounts {
			table.Rows = append(table.Rows, []string{
				account.Redact(acct.ID),
				string(acct.Status),
				strconv.Itoa(acct.ConsecutiveFailures),
				strconv.FormatInt(acct.TotalCalls, 10),
				strconv.FormatInt(acct.TotalFailures, 10),
			})
		}
		return cli.NewFormatter(format).FormatTo(os.Stdout, table)
	default:
		if len(accounts) == 0 {
			fmt.Println("no credentials")
			return nil
		}
		for _, acct := range accounts {
			fmt.Printf("%-16s %-12s failures=%d calls=%d\n",
				account.Redact(acct.ID), acct.Status, acct.ConsecutiveFailures, acct.TotalCalls)
		}
		return nil
	}
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, closeStore, err := openAccountPool(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := pool.Add(args[0]); err != nil {
		return cli.NewCommandError("accounts add", err)
	}
	pool.Flush(ctx)
	fmt.Printf("✓ Credential %s added\n", account.Redact(args[0]))
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, closeStore, err := openAccountPool(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := pool.Remove(ctx, args[0]); err != nil {
		return cli.NewCommandError("accounts remove", err)
	}
	fmt.Printf("✓ Credential %s removed\n", account.Redact(args[0]))
	return nil
}
