package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gdpr-guardian/internal/domain"
	"gdpr-guardian/internal/service/export"
	"gdpr-guardian/pkg/cli/client"
)

// runView is the subset of the server's run representation the table
// renderers use.
type runView struct {
	ID               string                     `json:"id"`
	SubjectID        string                     `json:"subject_id"`
	RequestTypes     []domain.ProposalAction    `json:"request_types"`
	State            domain.RunState            `json:"state"`
	AwaitingDecision bool                       `json:"awaiting_decision"`
	Identity         *domain.IdentityAssessment `json:"identity"`
	Findings         []domain.Finding           `json:"findings"`
	Proposals        []domain.Proposal          `json:"proposals"`
	Verdicts         []domain.GuardrailVerdict  `json:"verdicts"`
	Approval         *domain.Approval           `json:"approval"`
	Summary          string                     `json:"summary"`
	Export           domain.ExportState         `json:"export"`
	Erasure          *domain.ErasureRecord      `json:"erasure"`
	CreatedBy        string                     `json:"created_by"`
	CreatedAt        string                     `json:"created_at"`
}

func newRunsCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Create, inspect and decide DSAR runs",
	}
	cmd.AddCommand(
		newRunsListCmd(c),
		newRunsGetCmd(c),
		newRunsAuditCmd(c),
		newRunsCreateCmd(c),
		newRunsApproveCmd(c),
		newRunsOverrideCmd(c),
		newRunsClarifyCmd(c),
		newRunsActionCmd(c, "reevaluate", "reevaluate", "Re-run guardrails for a waiting run"),
		newRunsActionCmd(c, "resume", "resume", "Continue a run whose automated stages were interrupted"),
		newRunsActionCmd(c, "finalize", "finalize", "Finalize an approved run and export its bundle"),
		newRunsActionCmd(c, "retry-export", "export/retry", "Retry a failed bundle export"),
		newRunsAbandonCmd(c),
		newRunsDownloadCmd(c),
	)
	return cmd
}

// call sends a JSON request and prints the run it returns.
func call(cmd *cobra.Command, c *client.Client, method, path string, body any) error {
	if err := checkHost(c.BaseURL); err != nil {
		return err
	}
	resp, err := c.Do(method, path, nil, body)
	if err != nil {
		return err
	}
	return printRunResponse(cmd, resp)
}

func printRunResponse(cmd *cobra.Command, resp *http.Response) error {
	var raw json.RawMessage
	if err := client.DecodeJSON(resp, &raw); err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return client.PrintJSON(os.Stdout, raw)
	}
	var run runView
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Errorf("decode run: %w", err)
	}
	printRun(run)
	return nil
}

func printRun(r runView) {
	fields := map[string]any{
		"id":         r.ID,
		"subject":    r.SubjectID,
		"requests":   joinActions(r.RequestTypes),
		"state":      string(r.State),
		"awaiting":   strconv.FormatBool(r.AwaitingDecision),
		"findings":   strconv.Itoa(len(r.Findings)),
		"export":     string(r.Export.Status),
		"created_by": r.CreatedBy,
	}
	if r.Identity != nil {
		fields["identity"] = fmt.Sprintf("%s (%.2f / %.2f) %s", r.Identity.Status, r.Identity.Confidence, r.Identity.Threshold, r.Identity.Reason)
	}
	if r.Export.Location != "" {
		fields["bundle"] = r.Export.Location + " " + r.Export.Checksum
	}
	if r.Approval != nil {
		fields["decision"] = fmt.Sprintf("%s by %s", r.Approval.Decision, r.Approval.Actor)
		if r.Approval.RedactionsWaived {
			fields["redactions"] = "waived: " + r.Approval.Justification
		}
	}
	if r.Erasure != nil {
		fields["erasure"] = fmt.Sprintf("%s (%d findings in %d artifacts)", r.Erasure.Status, r.Erasure.Findings, len(r.Erasure.Artifacts))
	}
	client.PrintDetail(os.Stdout, fields)

	if len(r.Proposals) > 0 {
		_, _ = fmt.Fprintln(os.Stdout)
		verdicts := make(map[string]domain.GuardrailVerdict, len(r.Verdicts))
		for _, v := range r.Verdicts {
			verdicts[v.ProposalID] = v
		}
		rows := make([][]string, 0, len(r.Proposals))
		for _, p := range r.Proposals {
			allowed, reasons := "-", ""
			if v, ok := verdicts[p.ID]; ok {
				allowed = strconv.FormatBool(v.Allowed)
				reasons = strings.Join(v.Reasons, "; ")
			}
			rows = append(rows, []string{p.ID, string(p.Action), strconv.Itoa(len(p.Targets)), allowed, reasons})
		}
		client.PrintTable(os.Stdout, []string{"proposal", "action", "targets", "allowed", "reasons"}, rows)
	}
	if r.Summary != "" {
		_, _ = fmt.Fprintf(os.Stdout, "\n%s", r.Summary)
	}
}

func joinActions(actions []domain.ProposalAction) string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return strings.Join(out, ",")
}

func runPath(id string, suffix ...string) string {
	return strings.Join(append([]string{"/runs", url.PathEscape(id)}, suffix...), "/")
}

func newRunsListCmd(c *client.Client) *cobra.Command {
	var (
		state, subject, pageToken string
		maxResults                int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if subject != "" {
				q.Set("subject_id", subject)
			}
			if maxResults > 0 {
				q.Set("max_results", strconv.Itoa(maxResults))
			}
			if pageToken != "" {
				q.Set("page_token", pageToken)
			}
			resp, err := c.Do(http.MethodGet, "/runs", q, nil)
			if err != nil {
				return err
			}
			var out struct {
				Runs          []runView `json:"runs"`
				Total         int64     `json:"total"`
				NextPageToken string    `json:"next_page_token,omitempty"`
			}
			if err := client.DecodeJSON(resp, &out); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, out)
			}
			rows := make([][]string, len(out.Runs))
			for i, r := range out.Runs {
				rows[i] = []string{r.ID, r.SubjectID, string(r.State), joinActions(r.RequestTypes), string(r.Export.Status), r.CreatedAt}
			}
			client.PrintTable(os.Stdout, []string{"id", "subject", "state", "requests", "export", "created"}, rows)
			if out.NextPageToken != "" {
				_, _ = fmt.Fprintf(os.Stdout, "\nMore results: --page-token %s\n", out.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (e.g. awaiting_approval)")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by subject id")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Continue from a previous page")
	return cmd
}

func newRunsGetCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, c, http.MethodGet, runPath(args[0]), nil)
		},
	}
}

func newRunsAuditCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Show a run's audit trail and verify its hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			resp, err := c.Do(http.MethodGet, runPath(args[0], "audit"), nil, nil)
			if err != nil {
				return err
			}
			var out struct {
				RunID  string              `json:"run_id"`
				Events []domain.AuditEvent `json:"events"`
			}
			if err := client.DecodeJSON(resp, &out); err != nil {
				return err
			}
			chainErr := domain.VerifyChain(out.Events)
			if jsonOutput(cmd) {
				if err := client.PrintJSON(os.Stdout, out); err != nil {
					return err
				}
				return chainErr
			}
			rows := make([][]string, len(out.Events))
			for i, e := range out.Events {
				rows[i] = []string{strconv.FormatInt(e.Seq, 10), string(e.Stage), string(e.FromState), string(e.ToState), e.Actor, e.Hash[:min(12, len(e.Hash))]}
			}
			client.PrintTable(os.Stdout, []string{"seq", "stage", "from", "to", "actor", "hash"}, rows)
			if chainErr != nil {
				return fmt.Errorf("audit chain broken: %w", chainErr)
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nChain verified: %d events.\n", len(out.Events))
			return nil
		},
	}
}

func newRunsCreateCmd(c *client.Client) *cobra.Command {
	var (
		email, subjectID, idDocument string
		types                        []string
	)
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Open a DSAR run",
		Example: `  guardian runs create --email alice@example.com --type access --type erasure --id-document alice_passport.png`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			fields := url.Values{"request_types": types}
			if email != "" {
				fields.Set("subject_email", email)
			}
			if subjectID != "" {
				fields.Set("subject_id", subjectID)
			}
			var files []client.File
			if idDocument != "" {
				data, err := os.ReadFile(idDocument) //nolint:gosec // operator-supplied path
				if err != nil {
					return fmt.Errorf("read id document: %w", err)
				}
				files = append(files, client.File{Field: "id_document", Name: filepath.Base(idDocument), Data: data})
			}
			resp, err := c.DoMultipart(http.MethodPost, "/runs", fields, files...)
			if err != nil {
				return err
			}
			return printRunResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Subject email")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject id (defaults to the email)")
	cmd.Flags().StringSliceVar(&types, "type", []string{"access"}, "Request type: access or erasure (repeatable)")
	cmd.Flags().StringVar(&idDocument, "id-document", "", "Identity document to upload")
	return cmd
}

// parseSelections turns "proposal-id" or "proposal-id=f1,f2" into selections.
func parseSelections(specs []string) []domain.ProposalSelection {
	out := make([]domain.ProposalSelection, 0, len(specs))
	for _, s := range specs {
		id, targets, ok := strings.Cut(s, "=")
		sel := domain.ProposalSelection{ProposalID: strings.TrimSpace(id)}
		if ok {
			for _, t := range strings.Split(targets, ",") {
				if t = strings.TrimSpace(t); t != "" {
					sel.TargetIDs = append(sel.TargetIDs, t)
				}
			}
		}
		out = append(out, sel)
	}
	return out
}

func newRunsApproveCmd(c *client.Client) *cobra.Command {
	var (
		proposals     []string
		none          bool
		justification string
	)
	cmd := &cobra.Command{
		Use:     "approve <run-id>",
		Short:   "Approve a subset of a run's proposals",
		Example: `  guardian runs approve RUN --proposal access:alice@example.com --proposal 'erasure:alice@example.com=f1,f2'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(proposals) == 0 && !none {
				return fmt.Errorf("at least one --proposal (or --none) is required")
			}
			return call(cmd, c, http.MethodPost, runPath(args[0], "decisions"), domain.Decision{
				Kind:    domain.DecisionApprove,
				Payload: domain.DecisionPayload{Selections: parseSelections(proposals), Justification: justification},
			})
		},
	}
	cmd.Flags().StringArrayVar(&proposals, "proposal", nil, "Proposal id, optionally =finding,ids (repeatable)")
	cmd.Flags().BoolVar(&none, "none", false, "Approve an empty selection")
	cmd.Flags().StringVar(&justification, "justification", "", "Waive the policy's required redactions, if it allows that")
	cmd.MarkFlagsMutuallyExclusive("proposal", "none")
	return cmd
}

func newRunsOverrideCmd(c *client.Client) *cobra.Command {
	var (
		justification string
		proposals     []string
	)
	cmd := &cobra.Command{
		Use:   "override <run-id>",
		Short: "Override a guardrail block with a justification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := domain.DecisionPayload{Justification: justification}
			if len(proposals) > 0 {
				payload.Selections = parseSelections(proposals)
			}
			return call(cmd, c, http.MethodPost, runPath(args[0], "decisions"), domain.Decision{
				Kind:    domain.DecisionOverride,
				Payload: payload,
			})
		},
	}
	cmd.Flags().StringVar(&justification, "justification", "", "Why the block is overridden")
	cmd.Flags().StringArrayVar(&proposals, "proposal", nil, "Limit the override to these proposals (repeatable)")
	_ = cmd.MarkFlagRequired("justification")
	return cmd
}

func newRunsClarifyCmd(c *client.Client) *cobra.Command {
	var (
		approve, deny bool
		note          string
	)
	cmd := &cobra.Command{
		Use:   "clarify <run-id>",
		Short: "Resolve a run blocked on identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == deny {
				return fmt.Errorf("exactly one of --approve or --deny is required")
			}
			return call(cmd, c, http.MethodPost, runPath(args[0], "decisions"), domain.Decision{
				Kind:    domain.DecisionIdentityClarify,
				Payload: domain.DecisionPayload{Approved: &approve, Note: note},
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Accept the subject's identity")
	cmd.Flags().BoolVar(&deny, "deny", false, "Reject the subject's identity and abandon the run")
	cmd.Flags().StringVar(&note, "note", "", "Reviewer note")
	return cmd
}

func newRunsActionCmd(c *client.Client, use, suffix, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, c, http.MethodPost, runPath(args[0], strings.Split(suffix, "/")...), nil)
		},
	}
}

func newRunsAbandonCmd(c *client.Client) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abandon <run-id>",
		Short: "Abandon a run that has not been finalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, c, http.MethodPost, runPath(args[0], "abandon"), map[string]string{"reason": reason})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the run is abandoned")
	return cmd
}

func newRunsDownloadCmd(c *client.Client) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <run-id>",
		Short: "Download and verify a run's export bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkHost(c.BaseURL); err != nil {
				return err
			}
			resp, err := c.Do(http.MethodGet, runPath(args[0], "bundle"), nil, nil)
			if err != nil {
				return err
			}
			if err := client.CheckError(resp); err != nil {
				return err
			}
			want := resp.Header.Get("X-Bundle-Checksum")
			data, err := client.ReadBody(resp)
			if err != nil {
				return fmt.Errorf("read bundle: %w", err)
			}
			m, err := export.Verify(data)
			if err != nil {
				return fmt.Errorf("bundle failed verification: %w", err)
			}
			if want != "" && want != m.Checksum {
				return fmt.Errorf("bundle checksum %s does not match server checksum %s", m.Checksum, want)
			}
			if out == "" {
				out = args[0] + ".zip"
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			if jsonOutput(cmd) {
				return client.PrintJSON(os.Stdout, map[string]any{"path": out, "checksum": m.Checksum, "size": len(data)})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Saved %s (%d bytes, %s)\n", out, len(data), m.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (default <run-id>.zip)")
	return cmd
}
