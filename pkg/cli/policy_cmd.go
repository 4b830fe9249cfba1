package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gdpr-guardian/internal/policy"
	"gdpr-guardian/pkg/cli/client"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with DSAR policy files",
	}
	cmd.AddCommand(newPolicyValidateCmd())
	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a policy file offline",
		Long:  "Parses a policy YAML file with the same rules the server applies at startup, without contacting the server.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config/policy.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			f, err := os.Open(path) //nolint:gosec // operator-supplied path
			if err != nil {
				return fmt.Errorf("open policy: %w", err)
			}
			defer f.Close() //nolint:errcheck

			cfg, err := policy.Parse(f)
			if err != nil {
				if jsonOutput(cmd) {
					_ = client.PrintJSON(os.Stdout, map[string]any{"valid": false, "path": path, "error": err.Error()})
				}
				return fmt.Errorf("policy %s is invalid: %w", path, err)
			}

			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]any{"valid": true, "path": path, "policy": cfg})
			}
			client.PrintDetail(os.Stdout, map[string]any{
				"min_confidence_for_auto_approval": fmt.Sprintf("%.2f", cfg.Identity.MinConfidenceForAutoApproval),
				"financial_transaction_days":       fmt.Sprint(cfg.Retention.FinancialTransactionDays),
				"active_service_days":              fmt.Sprint(cfg.Retention.ActiveServiceDays),
				"access_sla_days":                  fmt.Sprint(cfg.SLA.AccessDays),
				"disclosure_sections":              strings.Join(cfg.Disclosure.RequireSections, ", "),
			})
			_, _ = fmt.Fprintf(os.Stdout, "\nPolicy %s is valid.\n", path)
			return nil
		},
	}
}
