package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	sectls "mercator-hq/lethe/pkg/security/tls"
)

var tlsCheckFlags struct {
	certFile string
	keyFile  string
	caFile   string
	client   bool
}

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "Inspect TLS material",
}

var tlsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a certificate before deploying it",
	Long: `Check a TLS certificate:
  - it is within its validity window
  - it matches the private key (with --key)
  - it chains to the CA bundle (with --ca), for server or client use

A certificate expiring within 30 days passes with a warning.

Examples:
  lethe tls check --cert server.crt --key server.key
  lethe tls check --cert dpo.crt --ca clients-ca.pem --client`,
	RunE: checkTLS,
}

func init() {
	rootCmd.AddCommand(tlsCmd)
	tlsCmd.AddCommand(tlsCheckCmd)

	tlsCheckCmd.Flags().StringVar(&tlsCheckFlags.certFile, "cert", "", "certificate file (required)")
	tlsCheckCmd.Flags().StringVar(&tlsCheckFlags.keyFile, "key", "", "private key file")
	tlsCheckCmd.Flags().StringVar(&tlsCheckFlags.caFile, "ca", "", "CA bundle to verify the chain against")
	tlsCheckCmd.Flags().BoolVar(&tlsCheckFlags.client, "client", false, "verify for client authentication instead of server")
	_ = tlsCheckCmd.MarkFlagRequired("cert")
}

// tlsReport is the result of tls check.
type tlsReport struct {
	*sectls.CertificateInfo
	DaysLeft   int      `json:"days_left"`
	Warning    string   `json:"warning,omitempty"`
	KeyMatches *bool    `json:"key_matches,omitempty"`
	ChainValid *bool    `json:"chain_valid,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

func (tlsReport) Header() []string { return []string{"CHECK", "RESULT"} }

func (r tlsReport) Rows() [][]string {
	rows := [][]string{
		{"subject", r.Subject},
		{"issuer", r.Issuer},
		{"valid until", r.NotAfter.Format(time.RFC3339)},
		{"days left", strconv.Itoa(r.DaysLeft)},
	}
	if r.KeyMatches != nil {
		rows = append(rows, []string{"key matches", strconv.FormatBool(*r.KeyMatches)})
	}
	if r.ChainValid != nil {
		rows = append(rows, []string{"chain valid", strconv.FormatBool(*r.ChainValid)})
	}
	if r.Warning != "" {
		rows = append(rows, []string{"warning", r.Warning})
	}
	for _, p := range r.Problems {
		rows = append(rows, []string{"problem", p})
	}
	return rows
}

func checkTLS(cmd *cobra.Command, args []string) error {
	cert, err := sectls.LoadCertificateFile(tlsCheckFlags.certFile)
	if err != nil {
		return cli.NewCommandError("tls check", err)
	}

	now := time.Now()
	report := tlsReport{CertificateInfo: sectls.Describe(cert)}
	report.DaysLeft, report.Warning = sectls.CheckExpiration(cert, now)
	if err := sectls.ValidateValidity(cert, now); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}

	if tlsCheckFlags.keyFile != "" {
		_, err := tls.LoadX509KeyPair(tlsCheckFlags.certFile, tlsCheckFlags.keyFile)
		ok := err == nil
		report.KeyMatches = &ok
		if !ok {
			report.Problems = append(report.Problems, fmt.Sprintf("key mismatch: %v", err))
		}
	}

	if tlsCheckFlags.caFile != "" {
		pool, err := sectls.LoadCAPool(tlsCheckFlags.caFile)
		if err != nil {
			return cli.NewCommandError("tls check", err)
		}
		usage := x509.ExtKeyUsageServerAuth
		if tlsCheckFlags.client {
			usage = x509.ExtKeyUsageClientAuth
		}
		err = sectls.VerifyChain(cert, pool, usage)
		ok := err == nil
		report.ChainValid = &ok
		if !ok {
			report.Problems = append(report.Problems, err.Error())
		}
	}

	if err := output(report); err != nil {
		return err
	}
	if len(report.Problems) > 0 {
		return cli.NewCommandError("tls check", fmt.Errorf("%s", strings.Join(report.Problems, "; ")))
	}
	return nil
}
