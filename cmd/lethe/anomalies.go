package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/lifecycle"
)

var anomalyFlags struct {
	kind   string
	record string
	since  time.Duration
	limit  int
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Inspect anomaly reports",
}

var anomaliesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reported anomalies",
	Long: `List anomalies reported by jobs: records in categories missing from the
catalog, deletions stuck past their grace period, erasures that failed
verification.

Examples:
  lethe anomalies list --since 168h
  lethe anomalies list --kind orphan-category --format json
  lethe anomalies list --record 0b6f2c1e-5d1a-4a8e-9a53-2f7d7c1f9e10`,
	Args: cobra.NoArgs,
	RunE: listAnomalies,
}

func init() {
	rootCmd.AddCommand(anomaliesCmd)
	anomaliesCmd.AddCommand(anomaliesListCmd)

	anomaliesListCmd.Flags().StringVar(&anomalyFlags.kind, "kind", "", "only this anomaly kind")
	anomaliesListCmd.Flags().StringVar(&anomalyFlags.record, "record", "", "only anomalies of this record")
	anomaliesListCmd.Flags().DurationVar(&anomalyFlags.since, "since", 0, "only anomalies detected within this window")
	anomaliesListCmd.Flags().IntVar(&anomalyFlags.limit, "limit", 100, "max results (0 for all)")
}

func listAnomalies(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	q := lifecycle.AnomalyQuery{
		Kind:     lifecycle.AnomalyKind(anomalyFlags.kind),
		RecordID: anomalyFlags.record,
		Limit:    anomalyFlags.limit,
	}
	if anomalyFlags.since > 0 {
		q.Since = time.Now().Add(-anomalyFlags.since)
	}
	anomalies, err := e.ListAnomalies(ctx, q)
	if err != nil {
		return cli.NewCommandError("anomalies list", err)
	}
	return output(anomalyTable(anomalies))
}

type anomalyTable []*lifecycle.Anomaly

func (anomalyTable) Header() []string {
	return []string{"DETECTED", "KIND", "RECORD", "CATEGORY", "JOB", "DETAIL"}
}

func (t anomalyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, a := range t {
		rows = append(rows, []string{
			a.DetectedAt.Format(time.RFC3339),
			string(a.Kind),
			a.RecordID,
			a.Category,
			a.Job,
			a.Detail,
		})
	}
	return rows
}
