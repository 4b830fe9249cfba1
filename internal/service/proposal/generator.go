// Package proposal derives access and erasure proposals from findings.
package proposal

import (
	"sort"

	"github.com/samber/lo"

	"gdpr-guardian/internal/domain"
)

// Generator groups findings into one proposal per (subject, action).
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

var _ domain.ProposalGenerator = (*Generator)(nil)

// Generate emits proposals only for requested actions that have at least
// one eligible finding. Erasure never targets third-party data. The output
// is ordered by subject, then by the order actions were requested.
func (g *Generator) Generate(findings []domain.Finding, requested []domain.ProposalAction) []domain.Proposal {
	actions := lo.Uniq(requested)
	bySubject := lo.GroupBy(findings, func(f domain.Finding) string { return f.SubjectID })
	subjects := lo.Keys(bySubject)
	sort.Strings(subjects)

	proposals := []domain.Proposal{}
	for _, subject := range subjects {
		group := bySubject[subject]
		for _, action := range actions {
			eligible := lo.Filter(group, func(f domain.Finding, _ int) bool { return eligibleFor(action, f) })
			if len(eligible) == 0 {
				continue
			}
			proposals = append(proposals, domain.Proposal{
				ID:        ProposalID(subject, action),
				SubjectID: subject,
				Action:    action,
				Targets:   lo.Map(eligible, func(f domain.Finding, _ int) string { return f.ID }),
			})
		}
	}
	return proposals
}

// ProposalID is stable for a given subject and action.
func ProposalID(subject string, action domain.ProposalAction) string {
	return string(action) + ":" + subject
}

func eligibleFor(action domain.ProposalAction, f domain.Finding) bool {
	switch action {
	case domain.ActionAccess:
		return true
	case domain.ActionErasure:
		return !f.ThirdParty
	default:
		return false
	}
}
