package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/lifecycle/scheduler"
)

var sweepFlags struct {
	job      string
	category string
	actor    string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a lifecycle job now",
	Long: `Run one of the scheduled jobs immediately against the configured store.

Jobs:
  deletion-sweep  - Evaluate records and delete or anonymize what is due
  aggregation     - Publish pending anonymous aggregates
  audit-scan      - Check the audit chain and report orphaned categories

Examples:
  # Run the deletion sweep for every category
  lethe sweep

  # Sweep one category
  lethe sweep --job deletion-sweep --category session-cookie`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepFlags.job, "job", scheduler.JobDeletionSweep, "job to run")
	sweepCmd.Flags().StringVar(&sweepFlags.category, "category", "", "restrict the run to one category")
	sweepCmd.Flags().StringVar(&sweepFlags.actor, "actor", "", "operator recorded in the audit log")

	_ = sweepCmd.RegisterFlagCompletionFunc("job", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{scheduler.JobDeletionSweep, scheduler.JobAggregation, scheduler.JobAuditScan}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.RunJob(ctx, sweepFlags.job, sweepFlags.category, sweepFlags.actor)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	return output(runReport{report})
}

type runReport struct {
	*scheduler.RunReport
}

func (r runReport) Header() []string {
	return []string{"JOB", "RUN", "SHARDS", "CONTENDED", "OUTCOMES", "DURATION"}
}

func (r runReport) Rows() [][]string {
	outcomes := make([]string, 0, len(r.Outcomes))
	for _, k := range slices.Sorted(maps.Keys(r.Outcomes)) {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", k, r.Outcomes[k]))
	}
	return [][]string{{
		r.Job,
		r.RunID,
		strconv.Itoa(r.Shards),
		strconv.Itoa(len(r.Contended)),
		strings.Join(outcomes, " "),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	}}
}
