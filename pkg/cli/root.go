// Package cli implements the guardian command-line interface: run
// operations against a guardian server plus offline policy, bundle and
// token helpers.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gdpr-guardian/pkg/cli/client"
)

// Set at build time with -ldflags "-X gdpr-guardian/pkg/cli.version=...".
var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	err := root.Execute()
	if err == nil {
		return 0
	}
	if output, _ := root.PersistentFlags().GetString("output"); output == formatJSON {
		writeJSONError(os.Stdout, err)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

func writeJSONError(w io.Writer, err error) {
	body := map[string]any{"error": err.Error()}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		body["http_status"] = apiErr.HTTPStatus
		body["code"] = apiErr.Code
	}
	_ = client.PrintJSON(w, body)
}

// globals are the persistent flags shared by every command.
type globals struct {
	host    string
	apiKey  string
	token   string
	output  string
	profile string
}

// apply resolves each setting as flag, then environment, then profile, then
// the flag default.
func (g *globals) apply(cmd *cobra.Command, c *client.Client) error {
	cfg, err := loadUserConfig()
	if err != nil {
		return err
	}
	p, err := cfg.profile(g.profile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for _, s := range []struct {
		flag, env, fromProfile string
		dst                    *string
	}{
		{"host", "GUARDIAN_HOST", p.Host, &g.host},
		{"api-key", "GUARDIAN_API_KEY", p.APIKey, &g.apiKey},
		{"token", "GUARDIAN_TOKEN", p.Token, &g.token},
		{"output", "GUARDIAN_OUTPUT", p.Output, &g.output},
	} {
		if flags.Changed(s.flag) {
			continue
		}
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		} else if s.fromProfile != "" {
			*s.dst = s.fromProfile
		}
	}
	if err := checkOutputFormat(g.output); err != nil {
		return err
	}
	*c = *client.NewClient(g.host, g.apiKey, g.token)
	return nil
}

func newRootCmd() *cobra.Command {
	var g globals
	c := &client.Client{}

	root := &cobra.Command{
		Use:           "guardian",
		Short:         "GDPR Guardian CLI",
		Long:          "Command-line interface for the GDPR Guardian DSAR API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.apply(cmd, c)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.host, "host", "http://localhost:8080", "API host URL")
	pf.StringVar(&g.apiKey, "api-key", "", "Operator API key")
	pf.StringVar(&g.token, "token", "", "Bearer JWT")
	pf.StringVarP(&g.output, "output", "o", formatTable, "Output format (table, json)")
	pf.StringVarP(&g.profile, "profile", "p", "", "Config profile to use")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newAuthCmd(),
		newRunsCmd(c),
		newSubjectsCmd(c),
		newPolicyCmd(),
		newBundleCmd(),
		newCompletionCmd(),
	)
	return root
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
		},
	}
}
