/*
Package cli provides command-line interface utilities for the lethe command.

Output Formatting:

Results implement Table to render as aligned text columns or CSV; JSON
output encodes the value itself:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, holds); err != nil {
		return err
	}

Progress Reporting:

Bulk imports report per-item progress with a failure count:

	progress := cli.NewProgressReporter(os.Stderr, "Importing")
	progress.Start(int64(len(items)))
	for _, item := range items {
		progress.Add(register(item) != nil)
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes. Configuration errors exit
with 2 and integrity failures (a broken audit chain) with 3.
*/
package cli
