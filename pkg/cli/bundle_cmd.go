package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gdpr-guardian/internal/service/export"
	"gdpr-guardian/pkg/cli/client"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Work with export bundles",
	}
	cmd.AddCommand(newBundleVerifyCmd())
	return cmd
}

func newBundleVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <bundle.zip>",
		Short: "Verify a bundle's checksum, member digests and audit chain offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read bundle: %w", err)
			}
			m, err := export.Verify(data)
			if err != nil {
				return fmt.Errorf("bundle %s failed verification: %w", args[0], err)
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]any{
					"valid":    true,
					"run_id":   m.RunID,
					"checksum": m.Checksum,
					"files":    m.Files,
				})
			}
			rows := make([][]string, len(m.Files))
			for i, f := range m.Files {
				rows[i] = []string{f.Name, f.SHA256}
			}
			client.PrintTable(os.Stdout, []string{"member", "sha256"}, rows)
			_, _ = fmt.Fprintf(os.Stdout, "\nBundle for run %s is intact (%s).\n", m.RunID, m.Checksum)
			return nil
		},
	}
}
