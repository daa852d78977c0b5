/*
Package cli provides command-line utilities for the grok2api command.

The package includes output formatters, progress reporters, and common CLI
helpers used by the subcommands.

Output Formatting:

Command results can be rendered as text, JSON, or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

For long-running operations such as proxy health sweeps:

	progress := cli.NewProgressReporter(os.Stdout)
	progress.Start(int64(len(proxies)))
	for i := range proxies {
		// Check the proxy
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	<-cli.WaitForShutdown()
	// Begin graceful shutdown
*/
package cli
