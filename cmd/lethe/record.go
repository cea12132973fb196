package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/engine"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
)

var recordFlags struct {
	state         string
	actor         string
	justification string
	file          string
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect and manage tracked records",
}

var recordGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(1),
	RunE:  getRecord,
}

var recordOverrideCmd = &cobra.Command{
	Use:   "override <record-id>",
	Short: "Manually move a record to another state",
	Long: `Manually move a record to another state. The change is audited as a manual
override with the actor and justification.

Moving a record to deleted runs the full erasure and issues a deletion
certificate. Records covered by an active legal hold cannot be overridden.

Examples:
  lethe record override 9b1c... --state active --actor dpo --justification "ticket #4411 resolved"
  lethe record override 9b1c... --state deleted --actor dpo --justification "erasure request ER-88"`,
	Args: cobra.ExactArgs(1),
	RunE: overrideRecord,
}

var recordImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Register records from a JSON lines file",
	Long: `Register records in bulk. Each line of the file is one registration:

  {"category":"support-ticket","owner_id":"user-42","created_at":"2026-03-01T10:00:00Z"}

Lines that fail are reported and skipped. Use "-" to read standard input.`,
	Args: cobra.NoArgs,
	RunE: importRecords,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordGetCmd, recordOverrideCmd, recordImportCmd)

	recordOverrideCmd.Flags().StringVar(&recordFlags.state, "state", "", "target state")
	recordOverrideCmd.Flags().StringVar(&recordFlags.actor, "actor", "", "operator making the change")
	recordOverrideCmd.Flags().StringVar(&recordFlags.justification, "justification", "", "why the override is needed")
	_ = recordOverrideCmd.MarkFlagRequired("state")
	_ = recordOverrideCmd.MarkFlagRequired("actor")
	_ = recordOverrideCmd.MarkFlagRequired("justification")

	recordImportCmd.Flags().StringVar(&recordFlags.file, "file", "", "JSON lines file")
	_ = recordImportCmd.MarkFlagRequired("file")
}

func getRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.GetRecord(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("record get", err)
	}
	return output(recordTable{rec})
}

func overrideRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.OverrideState(ctx, engine.OverrideRequest{
		RecordID:      args[0],
		State:         lifecycle.State(recordFlags.state),
		Actor:         recordFlags.actor,
		Justification: recordFlags.justification,
	})
	if err != nil {
		return cli.NewCommandError("record override", err)
	}
	if res.Certificate != nil {
		return output(certificateTable{res.Certificate})
	}
	return output(recordTable{res.Record})
}

func importRecords(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if recordFlags.file != "-" {
		f, err := os.Open(recordFlags.file)
		if err != nil {
			return cli.NewCommandError("record import", err)
		}
		defer f.Close()
		in = f
	}

	var reqs []ledger.RegisterRequest
	scanner := bufio.NewScanner(in)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var req ledger.RegisterRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return cli.NewCommandError("record import", fmt.Errorf("line %d: %w", line, err))
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return cli.NewCommandError("record import", err)
	}

	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	progress := cli.NewProgressReporter(os.Stderr, "Importing")
	progress.Start(int64(len(reqs)))
	var registered recordTable
	var failed int
	for i, req := range reqs {
		rec, err := e.RegisterRecord(ctx, req)
		if err != nil {
			failed++
			progress.Error(fmt.Errorf("record %d (%s): %w", i+1, req.Category, err))
		} else {
			registered = append(registered, rec)
		}
		progress.Add(err != nil)
	}
	progress.Finish()

	if err := output(registered); err != nil {
		return err
	}
	if failed > 0 {
		return cli.NewCommandError("record import", fmt.Errorf("%d of %d records failed", failed, len(reqs)))
	}
	return nil
}

type recordTable []*lifecycle.Record

func (recordTable) Header() []string {
	return []string{"ID", "CATEGORY", "OWNER", "STATE", "LAST ACTIVE", "STATE CHANGED"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.ID,
			r.Category,
			r.OwnerID,
			string(r.State),
			r.LastActiveAt.Format(time.RFC3339),
			r.StateChangedAt.Format(time.RFC3339),
		})
	}
	return rows
}
