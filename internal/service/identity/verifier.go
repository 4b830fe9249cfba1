// Package identity assesses identity artifacts submitted with a DSAR.
//
// The default HeuristicVerifier grades confidence from the artifact's
// filename only. It is a demo-grade placeholder, not a security control;
// production deployments plug in a real document verifier behind
// domain.IdentityVerifier.
package identity

import (
	"path"
	"strings"

	"gdpr-guardian/internal/domain"
)

var _ domain.IdentityVerifier = (*HeuristicVerifier)(nil)

// weakSignals are generic document-type keywords. They show intent but not
// that the document belongs to the subject.
var weakSignals = []string{"id", "license", "licence", "passport", "identity"}

// HeuristicVerifier maps filename evidence onto the three confidence bands
// of the policy threshold.
type HeuristicVerifier struct{}

// NewHeuristicVerifier creates a HeuristicVerifier.
func NewHeuristicVerifier() *HeuristicVerifier {
	return &HeuristicVerifier{}
}

// Assess grades the artifact and classifies it against policy.
// A missing or empty artifact is rejected at the no-signal confidence.
func (v *HeuristicVerifier) Assess(artifact *domain.IdentityArtifact, subject string, policy domain.PolicyConfig) domain.IdentityAssessment {
	threshold := policy.MinConfidence()
	bands := domain.BandsFor(threshold)
	if artifact == nil || artifact.Size() == 0 {
		reason := "no identity artifact submitted"
		if artifact != nil {
			reason = "identity artifact is empty"
		}
		return Reject(artifact, threshold, &domain.MissingArtifactError{Reason: reason})
	}

	name := strings.ToLower(path.Base(strings.ReplaceAll(artifact.Name, "\\", "/")))
	confidence := bands.Weak
	reason := "no subject-specific evidence in artifact"
	switch {
	case containsAny(name, strongSignals(subject, policy)):
		confidence = bands.Strong
		reason = "artifact names the data subject"
	case containsAny(name, weakSignals):
		reason = "generic identity document"
	}

	return domain.IdentityAssessment{
		ArtifactRef: artifact.Name,
		Size:        artifact.Size(),
		Confidence:  confidence,
		Threshold:   threshold,
		Status:      domain.Classify(confidence, threshold),
		Reason:      reason,
	}
}

// Reject builds the assessment for an absent or unreadable artifact.
func Reject(artifact *domain.IdentityArtifact, threshold float64, cause error) domain.IdentityAssessment {
	a := domain.IdentityAssessment{
		Confidence: domain.BandsFor(threshold).NoSignal,
		Threshold:  threshold,
		Status:     domain.IdentityRejected,
	}
	if artifact != nil {
		a.ArtifactRef = artifact.Name
		a.Size = artifact.Size()
	}
	if cause != nil {
		a.Reason = cause.Error()
	}
	return a
}

// strongSignals are tokens that tie a document to this subject: the local
// part of the subject's email plus any operator-configured aliases.
func strongSignals(subject string, policy domain.PolicyConfig) []string {
	var out []string
	local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(subject)), "@")
	if len(local) >= 3 {
		out = append(out, local)
	}
	for _, s := range policy.Identity.StrongSignals {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
