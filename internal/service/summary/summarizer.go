// Package summary renders a plain-text overview of a run's findings and
// proposals for reviewers.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"gdpr-guardian/internal/domain"
)

// LocalSummarizer builds summaries without any remote model.
type LocalSummarizer struct{}

var _ domain.Summarizer = LocalSummarizer{}

// Summarize lists finding counts per source and kind followed by proposals.
func (LocalSummarizer) Summarize(ctx context.Context, findings []domain.Finding, proposals []domain.Proposal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	if len(findings) == 0 {
		b.WriteString("No personal data was found for this subject.\n")
	} else {
		fmt.Fprintf(&b, "%d findings across %d sources", len(findings),
			len(lo.Uniq(lo.Map(findings, func(f domain.Finding, _ int) string { return f.Source }))))
		if n := lo.CountBy(findings, func(f domain.Finding) bool { return f.ThirdParty }); n > 0 {
			fmt.Fprintf(&b, " (%d belong to third parties and are masked)", n)
		}
		b.WriteString(".\n")

		counts := lo.CountValuesBy(findings, func(f domain.Finding) string {
			return f.Source + " / " + string(f.Kind)
		})
		keys := lo.Keys(counts)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", k, counts[k])
		}
	}

	if len(proposals) == 0 {
		b.WriteString("No actions proposed.\n")
		return b.String(), nil
	}
	b.WriteString("Proposed actions:\n")
	for _, p := range proposals {
		fmt.Fprintf(&b, "- %s for %s over %d findings\n", p.Action, p.SubjectID, len(p.Targets))
	}
	return b.String(), nil
}
