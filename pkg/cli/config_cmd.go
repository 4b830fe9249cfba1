package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"gdpr-guardian/pkg/cli/client"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI connection profiles",
		Long:  "Profiles store a server host, credentials and a default output format. Flags and GUARDIAN_* environment variables override the active profile.",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetProfileCmd(), newConfigUseProfileCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List profiles with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadUserConfig()
			if err != nil {
				return err
			}
			if !reveal {
				cfg = cfg.redacted()
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, cfg)
			}
			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([][]string, len(names))
			for i, name := range names {
				p := cfg.Profiles[name]
				marker := ""
				if name == cfg.CurrentProfile {
					marker = "*"
				}
				rows[i] = []string{name, marker, p.Host, p.APIKey, p.Token, p.Output}
			}
			client.PrintTable(os.Stdout, []string{"profile", "active", "host", "api-key", "token", "output"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print API keys and tokens in full")
	return cmd
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		name string
		p    Profile
	)

	cmd := &cobra.Command{
		Use:     "set-profile",
		Short:   "Create or update a profile",
		Example: `  guardian config set-profile --name prod --host https://guardian.example.com --api-key "$KEY"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("output") {
				if err := checkOutputFormat(p.Output); err != nil {
					return err
				}
			}
			if flags.Changed("host") {
				if err := checkHost(p.Host); err != nil {
					return err
				}
			}
			cfg, err := loadUserConfig()
			if err != nil {
				return err
			}
			cfg.update(name, func(dst *Profile) {
				setIfChanged(flags, "host", &dst.Host, p.Host)
				setIfChanged(flags, "api-key", &dst.APIKey, p.APIKey)
				setIfChanged(flags, "token", &dst.Token, p.Token)
				setIfChanged(flags, "output", &dst.Output, p.Output)
			})
			path, err := cfg.save()
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]string{"profile": name, "path": path})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Saved profile %q to %s\n", name, path)
			return nil
		},
	}

	// Local flags shadow the persistent ones of the same name.
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Profile name")
	f.StringVar(&p.Host, "host", "", "Server URL")
	f.StringVar(&p.APIKey, "api-key", "", "Operator API key")
	f.StringVar(&p.Token, "token", "", "Bearer JWT")
	f.StringVar(&p.Output, "output", "", "Default output format")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Make a profile the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadUserConfig()
			if err != nil {
				return err
			}
			if err := cfg.use(args[0]); err != nil {
				return err
			}
			if _, err := cfg.save(); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]string{"active_profile": args[0]})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Active profile is now %q\n", args[0])
			return nil
		},
	}
}
