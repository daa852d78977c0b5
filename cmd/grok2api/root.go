package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "grok2api",
	Short: "grok2api - OpenAI-compatible gateway for the Grok backend",
	Long: `grok2api exposes an OpenAI-compatible chat/image/video API and translates
every call into requests against the upstream conversational backend.

It manages:
  - A pool of upstream credentials with health, cooldown, and quota state
  - A pool of egress proxies with sticky credential bindings
  - Retry and failover across credential+proxy pairs
  - Streaming SSE responses with media extraction and caching
  - Long-running video generation tasks`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
