package domain

import (
	"sort"
	"time"
)

// Delivery is what a run's decision does to each finding. Every map is keyed
// by finding ID.
type Delivery struct {
	// Released holds targets of selected access proposals.
	Released map[string]bool
	// Disclosed holds released findings whose value goes to the subject.
	Disclosed map[string]bool
	// Required holds findings masked because the policy requires redaction
	// of their kind and the decision did not waive it.
	Required map[string]bool
	// Erased holds targets of selected erasure proposals.
	Erased map[string]bool
}

// PlanDelivery derives the delivery from the run's approval. A finding is
// disclosed only when released, not third-party and not under a required
// redaction. Without an approval nothing is released or erased.
func PlanDelivery(run *Run) Delivery {
	d := Delivery{
		Released:  map[string]bool{},
		Disclosed: map[string]bool{},
		Required:  map[string]bool{},
		Erased:    map[string]bool{},
	}
	waived := false
	if run.Approval != nil {
		waived = run.Approval.RedactionsWaived
		for _, sel := range run.Approval.Selections {
			p, ok := run.Proposal(sel.ProposalID)
			if !ok {
				continue
			}
			for _, id := range sel.TargetIDs {
				switch p.Action {
				case ActionAccess:
					d.Released[id] = true
				case ActionErasure:
					d.Erased[id] = true
				}
			}
		}
	}
	for _, f := range run.Findings {
		if !waived && run.Policy.Redaction.Requires(f.Kind) {
			d.Required[f.ID] = true
		}
		if d.Released[f.ID] && !f.ThirdParty && !d.Required[f.ID] {
			d.Disclosed[f.ID] = true
		}
	}
	return d
}

// RequiredRedactions returns, sorted, the released findings the policy
// requires to be masked when no waiver applies.
func RequiredRedactions(run *Run, selections []ProposalSelection) []string {
	var out []string
	for _, sel := range selections {
		p, ok := run.Proposal(sel.ProposalID)
		if !ok || p.Action != ActionAccess {
			continue
		}
		for _, id := range sel.TargetIDs {
			for _, f := range run.Findings {
				if f.ID == id && run.Policy.Redaction.Requires(f.Kind) {
					out = append(out, id)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// Erasure record statuses.
const (
	ErasureRecorded     = "recorded"
	ErasureNotRequested = "not_requested"
	ErasedArtifact      = "erased"
)

// ErasureRecord lists the artifacts soft-deleted by a finalized erasure
// decision. It carries identifiers only, never content.
type ErasureRecord struct {
	Status     string            `json:"status"`
	Artifacts  []ErasureArtifact `json:"artifacts"`
	Findings   int               `json:"findings"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// ErasureArtifact is one soft-deleted artifact and the findings that put it
// in scope.
type ErasureArtifact struct {
	Source     string   `json:"source"`
	ArtifactID string   `json:"artifact_id"`
	FindingIDs []string `json:"finding_ids"`
	Status     string   `json:"status"`
}

// NewErasureRecord builds the erasure record for a run about to be
// finalized. Artifacts are ordered by source, then artifact ID.
func NewErasureRecord(run *Run, at time.Time) *ErasureRecord {
	rec := &ErasureRecord{Status: ErasureNotRequested, Artifacts: []ErasureArtifact{}, RecordedAt: at}
	erased := PlanDelivery(run).Erased
	if len(erased) == 0 {
		return rec
	}
	index := map[string]int{}
	for _, f := range run.Findings {
		if !erased[f.ID] {
			continue
		}
		key := f.ArtifactKey()
		i, ok := index[key]
		if !ok {
			i = len(rec.Artifacts)
			index[key] = i
			rec.Artifacts = append(rec.Artifacts, ErasureArtifact{Source: f.Source, ArtifactID: f.ArtifactID, Status: ErasedArtifact})
		}
		rec.Artifacts[i].FindingIDs = append(rec.Artifacts[i].FindingIDs, f.ID)
		rec.Findings++
	}
	sort.Slice(rec.Artifacts, func(i, j int) bool {
		a, b := rec.Artifacts[i], rec.Artifacts[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ArtifactID < b.ArtifactID
	})
	rec.Status = ErasureRecorded
	return rec
}
