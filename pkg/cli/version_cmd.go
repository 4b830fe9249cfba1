package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"gdpr-guardian/pkg/cli/client"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{"version": version, "commit": commit, "go": runtime.Version()}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, info)
			}
			_, _ = fmt.Fprintf(os.Stdout, "guardian %s (%s, %s)\n", info["version"], info["commit"], info["go"])
			return nil
		},
	}
}
