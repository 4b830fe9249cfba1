package export

import (
	"sort"

	"gdpr-guardian/internal/domain"
)

// RedactedArtifact is an artifact as delivered to the subject: every finding
// that is not disclosed is replaced by its masked preview.
type RedactedArtifact struct {
	Source     string `json:"source"`
	ArtifactID string `json:"artifact_id"`
	Content    string `json:"content"`
	// Withheld is set when a finding could not be masked in place; the
	// content is then left out entirely.
	Withheld  bool     `json:"withheld,omitempty"`
	Disclosed []string `json:"disclosed"`
	Redacted  []string `json:"redacted"`
}

// RedactArtifacts renders every artifact that holds a released finding.
// Artifacts are returned in source, then artifact ID order.
func RedactArtifacts(run *domain.Run, plan domain.Delivery) []RedactedArtifact {
	byArtifact := map[string][]domain.Finding{}
	released := map[string]bool{}
	for _, f := range run.Findings {
		key := f.ArtifactKey()
		byArtifact[key] = append(byArtifact[key], f)
		if plan.Released[f.ID] {
			released[key] = true
		}
	}

	out := []RedactedArtifact{}
	for _, a := range run.Artifacts {
		if !released[a.Key()] {
			continue
		}
		out = append(out, redact(a, byArtifact[a.Key()], plan.Disclosed))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	return out
}

// redact masks findings right to left so earlier rune offsets stay valid.
// A finding without a usable span, or one overlapping an already masked
// span, withholds the whole artifact.
func redact(a domain.Artifact, findings []domain.Finding, disclosed map[string]bool) RedactedArtifact {
	ra := RedactedArtifact{Source: a.Source, ArtifactID: a.ArtifactID, Disclosed: []string{}, Redacted: []string{}}
	text := []rune(a.Content)

	sorted := append([]domain.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	limit := len(text)
	for _, f := range sorted {
		if disclosed[f.ID] {
			ra.Disclosed = append(ra.Disclosed, f.ID)
			continue
		}
		ra.Redacted = append(ra.Redacted, f.ID)
		if ra.Withheld {
			continue
		}
		if f.Start < 0 || f.End <= f.Start || f.End > limit || string(text[f.Start:f.End]) != f.Value {
			ra.Withheld = true
			continue
		}
		masked := append([]rune(f.MaskedPreview), text[f.End:]...)
		text = append(text[:f.Start], masked...)
		limit = f.Start
	}
	sort.Strings(ra.Disclosed)
	sort.Strings(ra.Redacted)
	if !ra.Withheld {
		ra.Content = string(text)
	}
	return ra
}
