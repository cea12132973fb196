package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/hold"
)

var holdFlags struct {
	subject       string
	record        string
	reason        string
	actor         string
	justification string
	force         bool
	all           bool
}

var holdCmd = &cobra.Command{
	Use:   "hold",
	Short: "Manage legal holds",
	Long: `Place, release and list legal holds.

A hold covers one record or every record of a data subject. Covered records
move to held and are never deleted or anonymized while the hold is active.

Examples:
  # Hold every record of a subject
  lethe hold place --subject user-42 --reason "litigation 2026-17" --actor counsel

  # Release it
  lethe hold release 3f2a... --reason settled --actor counsel

  # Release a hold someone else placed
  lethe hold release 3f2a... --actor dpo --force --justification "counsel left, case closed"`,
}

var holdPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Place a legal hold",
	Args:  cobra.NoArgs,
	RunE:  placeHold,
}

var holdReleaseCmd = &cobra.Command{
	Use:   "release <hold-id>",
	Short: "Release a legal hold",
	Args:  cobra.ExactArgs(1),
	RunE:  releaseHold,
}

var holdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List legal holds",
	Args:  cobra.NoArgs,
	RunE:  listHolds,
}

func init() {
	rootCmd.AddCommand(holdCmd)
	holdCmd.AddCommand(holdPlaceCmd, holdReleaseCmd, holdListCmd)

	holdPlaceCmd.Flags().StringVar(&holdFlags.subject, "subject", "", "data subject to hold")
	holdPlaceCmd.Flags().StringVar(&holdFlags.record, "record", "", "single record to hold")
	holdPlaceCmd.MarkFlagsMutuallyExclusive("subject", "record")
	holdPlaceCmd.MarkFlagsOneRequired("subject", "record")

	for _, c := range []*cobra.Command{holdPlaceCmd, holdReleaseCmd} {
		c.Flags().StringVar(&holdFlags.reason, "reason", "", "hold or release reason")
		c.Flags().StringVar(&holdFlags.actor, "actor", "", "who is acting")
		c.Flags().StringVar(&holdFlags.justification, "justification", "", "justification recorded with an override")
		c.Flags().BoolVar(&holdFlags.force, "force", false, "operator override; requires --justification")
		_ = c.MarkFlagRequired("actor")
	}
	_ = holdPlaceCmd.MarkFlagRequired("reason")

	holdListCmd.Flags().BoolVar(&holdFlags.all, "all", false, "include released holds")
}

func placeHold(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	req := hold.PlaceRequest{
		SubjectID:     holdFlags.subject,
		RecordID:      holdFlags.record,
		Reason:        holdFlags.reason,
		PlacedBy:      holdFlags.actor,
		Justification: holdFlags.justification,
	}
	place := e.PlaceLegalHold
	if holdFlags.force {
		place = e.ForcePlaceHold
	}
	h, err := place(ctx, req)
	if err != nil {
		return cli.NewCommandError("hold place", err)
	}
	return output(holdTable{h})
}

func releaseHold(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	req := hold.ReleaseRequest{
		ReleasedBy:    holdFlags.actor,
		Reason:        holdFlags.reason,
		Justification: holdFlags.justification,
	}
	release := e.ReleaseLegalHold
	if holdFlags.force {
		release = e.ForceReleaseHold
	}
	h, err := release(ctx, args[0], req)
	if err != nil {
		return cli.NewCommandError("hold release", err)
	}
	return output(holdTable{h})
}

func listHolds(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	holds, err := e.ListLegalHolds(ctx, !holdFlags.all)
	if err != nil {
		return cli.NewCommandError("hold list", err)
	}
	return output(holdTable(holds))
}

type holdTable []*lifecycle.LegalHold

func (holdTable) Header() []string {
	return []string{"ID", "SCOPE", "REASON", "PLACED BY", "CREATED", "RELEASED"}
}

func (t holdTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, h := range t {
		scope := "subject:" + h.SubjectID
		if h.RecordID != "" {
			scope = "record:" + h.RecordID
		}
		released := "-"
		if h.ReleasedAt != nil {
			released = fmt.Sprintf("%s by %s", h.ReleasedAt.Format(time.RFC3339), h.ReleasedBy)
		}
		rows = append(rows, []string{h.ID, scope, h.Reason, h.PlacedBy, h.CreatedAt.Format(time.RFC3339), released})
	}
	return rows
}
