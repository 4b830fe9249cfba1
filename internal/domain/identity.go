package domain

// IdentityStatus classifies an identity assessment against policy.
type IdentityStatus string

const (
	IdentityAutoVerified IdentityStatus = "auto_verified"
	IdentityNeedsReview  IdentityStatus = "needs_review"
	IdentityRejected     IdentityStatus = "rejected"
)

// Confidence bands produced by the default heuristic verifier.
const (
	ConfidenceStrongSignal = 0.95
	ConfidenceWeakSignal   = 0.60
	ConfidenceNoSignal     = 0.10
)

// ConfidenceBands are the graded confidences for one threshold.
type ConfidenceBands struct {
	Strong   float64
	Weak     float64
	NoSignal float64
}

// BandsFor returns the default bands, shifted where needed so that
// Strong >= threshold > Weak > NoSignal holds for every threshold in (0,1].
// Thresholds in (0.60, 0.95] keep 0.95/0.60/0.10 unchanged.
func BandsFor(threshold float64) ConfidenceBands {
	weak := float64(ConfidenceWeakSignal)
	if threshold <= ConfidenceWeakSignal {
		weak = threshold / 2
	}
	return ConfidenceBands{
		Strong:   max(ConfidenceStrongSignal, threshold),
		Weak:     weak,
		NoSignal: min(ConfidenceNoSignal, weak/2),
	}
}

// IdentityArtifact is a submitted identity document. A nil artifact means
// nothing was uploaded.
type IdentityArtifact struct {
	Name    string
	Content []byte
}

// Size returns the content length in bytes.
func (a *IdentityArtifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Content)
}

// IdentityAssessment is the deterministic outcome of verifying an artifact.
type IdentityAssessment struct {
	ArtifactRef string         `json:"artifact_ref"`
	Size        int            `json:"size"`
	Confidence  float64        `json:"confidence"`
	Threshold   float64        `json:"threshold"`
	Status      IdentityStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
}

// Classify maps a confidence to a status: auto_verified iff confidence >= threshold.
func Classify(confidence, threshold float64) IdentityStatus {
	if confidence >= threshold {
		return IdentityAutoVerified
	}
	return IdentityNeedsReview
}

// IdentityClarification is the human answer to a blocked identity check.
type IdentityClarification struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
	Actor    string `json:"actor"`
}
