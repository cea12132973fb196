package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
)

var catalogFlags struct {
	file   string
	asYAML bool
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the policy catalog",
	Long: `Show, validate and publish versions of the policy catalog.

Catalog versions are append-only and hash-chained. A new version must take
effect after the latest one and must keep every category of the latest
version; mark a category sunset to retire it.

Example catalog file:

  effective_date: 2026-01-01T00:00:00Z
  categories:
    - name: session-cookie
      active_lifespan: 30d
    - name: kyc-status
      legal_basis: regulatory_required
      legal_basis_duration: 5y
      post_active_retention: 30d`,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the catalog version in effect",
	Args:  cobra.NoArgs,
	RunE:  showCatalog,
}

var catalogVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List published catalog versions",
	Args:  cobra.NoArgs,
	RunE:  listCatalogVersions,
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a catalog file against the published history",
	Args:  cobra.NoArgs,
	RunE:  validateCatalog,
}

var catalogPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a catalog file as a new version",
	Args:  cobra.NoArgs,
	RunE:  publishCatalog,
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the catalog repository and publish it when newer",
	Long: `Pull the Git repository configured under catalog.git and publish its
catalog file as a new version when it changed and takes effect after the
latest version.`,
	Args: cobra.NoArgs,
	RunE: syncCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogShowCmd, catalogVersionsCmd, catalogValidateCmd, catalogPublishCmd, catalogSyncCmd)

	catalogShowCmd.Flags().BoolVar(&catalogFlags.asYAML, "yaml", false, "print in catalog file form")
	for _, c := range []*cobra.Command{catalogValidateCmd, catalogPublishCmd} {
		c.Flags().StringVar(&catalogFlags.file, "file", "", "catalog YAML file")
		_ = c.MarkFlagRequired("file")
	}
}

func showCatalog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.GetCurrentPolicyCatalog(ctx)
	if err != nil {
		return cli.NewCommandError("catalog show", err)
	}
	if catalogFlags.asYAML {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(catalog.ToFile(v)); err != nil {
			return err
		}
		return enc.Close()
	}
	return output(rulesTable{v})
}

func listCatalogVersions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	versions, err := e.CatalogVersions(ctx)
	if err != nil {
		return cli.NewCommandError("catalog versions", err)
	}
	return output(versionsTable(versions))
}

func validateCatalog(cmd *cobra.Command, args []string) error {
	draft, err := catalog.LoadFile(catalogFlags.file)
	if err != nil {
		return cli.NewCommandError("catalog validate", err)
	}

	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.ValidateCatalog(ctx, draft); err != nil {
		return cli.NewCommandError("catalog validate", err)
	}
	fmt.Fprintf(stdout, "✓ %s is valid (%d categories)\n", catalogFlags.file, len(draft.Rules))
	return nil
}

func publishCatalog(cmd *cobra.Command, args []string) error {
	draft, err := catalog.LoadFile(catalogFlags.file)
	if err != nil {
		return cli.NewCommandError("catalog publish", err)
	}

	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.PublishCatalog(ctx, draft)
	if err != nil {
		return cli.NewCommandError("catalog publish", err)
	}
	return output(versionsTable{v})
}

func syncCatalog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.SyncCatalog(ctx)
	if err != nil {
		return cli.NewCommandError("catalog sync", err)
	}
	fmt.Fprintf(stdout, "✓ Synced %s (%s, %s)\n", result.Commit.SHA, result.Commit.Author, result.Commit.Timestamp.Format(time.RFC3339))
	if result.Published != nil {
		return output(versionsTable{result.Published})
	}
	if latest := e.Catalog().Latest(); latest != nil {
		fmt.Fprintf(stdout, "  Catalog version %d remains latest\n", latest.Version)
	}
	return nil
}

// rulesTable lists the rules of one version.
type rulesTable struct {
	*lifecycle.CatalogVersion
}

func (rulesTable) Header() []string {
	return []string{"CATEGORY", "LEGAL BASIS", "ACTIVE", "POST-ACTIVE", "BASIS DURATION", "ANONYMIZABLE", "SUNSET"}
}

func (t rulesTable) Rows() [][]string {
	f := catalog.ToFile(t.CatalogVersion)
	rows := make([][]string, 0, len(f.Categories))
	for _, r := range f.Categories {
		rows = append(rows, []string{
			r.Name,
			string(r.LegalBasis),
			catalog.FormatDuration(time.Duration(r.ActiveLifespan)),
			catalog.FormatDuration(time.Duration(r.PostActiveRetention)),
			catalog.FormatDuration(time.Duration(r.LegalBasisDuration)),
			strconv.FormatBool(r.Anonymizable),
			strconv.FormatBool(r.Sunset),
		})
	}
	return rows
}

type versionsTable []*lifecycle.CatalogVersion

func (versionsTable) Header() []string {
	return []string{"VERSION", "EFFECTIVE", "PUBLISHED", "CATEGORIES", "HASH"}
}

func (t versionsTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, v := range t {
		rows = append(rows, []string{
			strconv.Itoa(v.Version),
			v.EffectiveDate.Format(time.RFC3339),
			v.PublishedAt.Format(time.RFC3339),
			strconv.Itoa(len(v.Rules)),
			v.Hash,
		})
	}
	return rows
}
