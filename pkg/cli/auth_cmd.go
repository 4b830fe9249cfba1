package cli

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gdpr-guardian/internal/middleware"
	"gdpr-guardian/pkg/cli/client"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Operator credential helpers",
	}
	cmd.AddCommand(newAuthTokenCmd())
	return cmd
}

func newAuthTokenCmd() *cobra.Command {
	var (
		principal string
		secret    string
		audience  string
		roles     []string
		admin     bool
		expires   time.Duration
		noSave    bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 operator token",
		Long: "Signs a JWT with the server's JWT_SECRET for local and test deployments. " +
			"The token is stored in the selected profile unless --no-save is given.",
		Example: `  # Reviewer token for the dev server
  guardian auth token --principal reviewer@example.com --secret dev-secret-change-in-production

  # DPO token that may override guardrails and set legal holds
  guardian auth token --principal dpo@example.com --admin --secret "$JWT_SECRET" --expires 8h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if expires <= 0 {
				return fmt.Errorf("--expires must be positive")
			}
			if admin {
				roles = append(roles, middleware.AdminRole)
			}
			now := time.Now()
			signed, err := middleware.SignHS256(secret, principal, audience, roles, now, expires)
			if err != nil {
				return err
			}

			profile := ""
			if !noSave {
				cfg, err := loadUserConfig()
				if err != nil {
					return err
				}
				selected, _ := cmd.Root().PersistentFlags().GetString("profile")
				profile = cmp.Or(selected, cfg.CurrentProfile)
				cfg.update(profile, func(p *Profile) { p.Token = signed })
				if _, err := cfg.save(); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
			}

			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]any{
					"token":      signed,
					"principal":  principal,
					"roles":      roles,
					"expires_at": now.Add(expires).UTC(),
					"profile":    profile,
				})
			}
			_, _ = fmt.Fprintln(os.Stdout, signed)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&principal, "principal", "", "Operator identity (sub claim)")
	f.StringVar(&secret, "secret", "", "HS256 signing secret")
	f.StringVar(&audience, "audience", "", "aud claim")
	f.StringSliceVar(&roles, "role", nil, "Role claim (repeatable)")
	f.BoolVar(&admin, "admin", false, "Add the "+middleware.AdminRole+" role")
	f.DurationVar(&expires, "expires", 24*time.Hour, "Token lifetime")
	f.BoolVar(&noSave, "no-save", false, "Print the token without storing it")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}
