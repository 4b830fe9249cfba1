package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gdpr-guardian/internal/domain"
	"gdpr-guardian/pkg/cli/client"
)

func newSubjectsCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subjects",
		Short: "Inspect subject records and manage legal holds",
	}
	cmd.AddCommand(newSubjectsGetCmd(c), newSubjectsLegalHoldCmd(c))
	return cmd
}

func printSubject(cmd *cobra.Command, resp *http.Response) error {
	var rec domain.SubjectRecord
	if err := client.DecodeJSON(resp, &rec); err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return client.PrintJSON(os.Stdout, rec)
	}
	client.PrintDetail(os.Stdout, map[string]any{
		"subject":       rec.SubjectID,
		"email":         rec.Email,
		"phone":         rec.Phone,
		"legal_hold":    strconv.FormatBool(rec.LegalHold),
		"transactions":  strconv.Itoa(len(rec.Transactions)),
		"subscriptions": strconv.Itoa(len(rec.ActiveSubscriptions)),
	})
	if len(rec.Transactions) > 0 {
		_, _ = fmt.Fprintln(os.Stdout)
		rows := make([][]string, len(rec.Transactions))
		for i, t := range rec.Transactions {
			rows[i] = []string{t.ID, t.Date.Format("2006-01-02"), t.Amount.StringFixed(2), t.Product}
		}
		client.PrintTable(os.Stdout, []string{"transaction", "date", "amount", "product"}, rows)
	}
	return nil
}

func newSubjectsGetCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <subject-id>",
		Short: "Show a subject record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			resp, err := c.Do(http.MethodGet, "/subjects/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printSubject(cmd, resp)
		},
	}
}

func newSubjectsLegalHoldCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "legal-hold <subject-id> <on|off>",
		Short: "Place or lift a legal hold (requires the dpo role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			var hold bool
			switch strings.ToLower(args[1]) {
			case "on", "true":
				hold = true
			case "off", "false":
			default:
				return fmt.Errorf("legal hold must be on or off, got %q", args[1])
			}
			resp, err := c.Do(http.MethodPut, "/subjects/"+url.PathEscape(args[0])+"/legal-hold", nil,
				map[string]bool{"legal_hold": hold})
			if err != nil {
				return err
			}
			return printSubject(cmd, resp)
		},
	}
}
