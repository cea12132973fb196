package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/security/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Inspect secret resolution",
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the secret names the configured providers hold",
	Long:  `List the secret names visible to the configured providers. Values are never printed.`,
	RunE:  listSecrets,
}

var secretsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve every secret reference in the configuration",
	Long: `Resolve every ${secret:name} reference in erasure target settings, catalog
repository credentials and API keys, and report which ones resolve. Values are never printed.`,
	RunE: checkSecrets,
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsCheckCmd)
}

func openSecrets() (*config.Config, *secrets.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, nil, err
	}
	m, err := secrets.FromConfig(cfg.Security.Secrets, nil)
	if err != nil {
		return nil, nil, cli.NewConfigError("security.secrets", err.Error())
	}
	return cfg, m, nil
}

func listSecrets(cmd *cobra.Command, args []string) error {
	_, m, err := openSecrets()
	if err != nil {
		return err
	}
	defer m.Close()

	names, err := m.List(context.Background())
	if err != nil {
		return cli.NewCommandError("secrets list", err)
	}
	rows := make(secretTable, 0, len(names))
	for _, n := range names {
		rows = append(rows, secretRow{Field: n, Status: "available"})
	}
	return output(rows)
}

func checkSecrets(cmd *cobra.Command, args []string) error {
	cfg, m, err := openSecrets()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx := context.Background()
	var rows secretTable
	failed := 0
	check := func(field, value string) {
		if !secrets.HasReferences(value) {
			return
		}
		row := secretRow{Field: field, Status: "ok"}
		if _, err := m.Resolve(ctx, value); err != nil {
			row.Status = "unresolved"
			row.Error = err.Error()
			failed++
		}
		rows = append(rows, row)
	}

	for i, s := range cfg.Erasure.SQL {
		check(fmt.Sprintf("erasure.sql[%d].dsn", i), s.DSN)
	}
	for i, r := range cfg.Erasure.Redis {
		check(fmt.Sprintf("erasure.redis[%d].address", i), r.Address)
		check(fmt.Sprintf("erasure.redis[%d].password", i), r.Password)
	}
	if cfg.Catalog.Git.Enabled {
		check("catalog.git.auth.token", cfg.Catalog.Git.Auth.Token)
		check("catalog.git.auth.ssh_key_passphrase", cfg.Catalog.Git.Auth.SSHKeyPassphrase)
	}
	for i, k := range cfg.Security.Authentication.Keys {
		check(fmt.Sprintf("security.authentication.keys[%d].key", i), k.Key)
	}

	if err := output(rows); err != nil {
		return err
	}
	if failed > 0 {
		return cli.NewConfigError("security.secrets", fmt.Sprintf("%d secret references did not resolve", failed))
	}
	return nil
}

type secretRow struct {
	Field  string `json:"field"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type secretTable []secretRow

func (secretTable) Header() []string { return []string{"FIELD", "STATUS", "ERROR"} }

func (t secretTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{r.Field, r.Status, r.Error})
	}
	return rows
}
