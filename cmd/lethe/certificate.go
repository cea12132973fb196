package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/lifecycle"
)

var certificateCmd = &cobra.Command{
	Use:     "certificate",
	Aliases: []string{"cert"},
	Short:   "Read deletion certificates",
}

var certificateGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show the deletion certificate of a record",
	Long: `Show the deletion certificate of a deleted record: the stores it was erased
from, when erasure was verified, and the audit entry hash it is bound to.`,
	Args: cobra.ExactArgs(1),
	RunE: getCertificate,
}

func init() {
	rootCmd.AddCommand(certificateCmd)
	certificateCmd.AddCommand(certificateGetCmd)
}

func getCertificate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cert, err := e.GetDeletionCertificate(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("certificate get", err)
	}
	return output(certificateTable{cert})
}

type certificateTable []*lifecycle.DeletionCertificate

func (certificateTable) Header() []string {
	return []string{"RECORD", "CATEGORY", "STORES", "DELETED", "VERIFIED", "AUDIT HASH", "HASH"}
}

func (t certificateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{
			c.RecordID,
			c.Category,
			strings.Join(c.Stores, ","),
			c.DeletedAt.Format(time.RFC3339),
			c.VerifiedAt.Format(time.RFC3339),
			c.AuditHash,
			c.Hash,
		})
	}
	return rows
}
