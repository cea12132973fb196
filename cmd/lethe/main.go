// Lethe is a data retention lifecycle engine.
//
// It tracks every registered record through its retention lifecycle,
// deletes or anonymizes records once their policy allows it, honors legal
// holds, and keeps a hash-chained audit log with a deletion certificate for
// every erased record.
//
// Usage:
//
//	# Start the HTTP server and scheduler
//	lethe run --config /etc/lethe/config.yaml
//
//	# Run the deletion sweep now
//	lethe sweep --job deletion-sweep
//
//	# Place a legal hold on every record of a data subject
//	lethe hold place --subject user-42 --reason "litigation 2026-17" --actor counsel
//
//	# Verify the audit hash chain
//	lethe audit verify
//
//	# Publish a new policy catalog version
//	lethe catalog publish --file catalog.yaml
package main

import (
	"fmt"
	"os"

	"mercator-hq/lethe/pkg/cli"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
