package domain

import (
	"fmt"
	"strings"
	"time"
)

// PIIKind is a category of personal data.
type PIIKind string

const (
	PIIEmail   PIIKind = "email"
	PIIPhone   PIIKind = "phone"
	PIIAddress PIIKind = "address"
)

// ParsePIIKind validates a PII kind name.
func ParsePIIKind(s string) (PIIKind, error) {
	switch k := PIIKind(strings.ToLower(strings.TrimSpace(s))); k {
	case PIIEmail, PIIPhone, PIIAddress:
		return k, nil
	default:
		return "", ErrValidation("unknown PII kind %q (want email, phone or address)", s)
	}
}

// RawRecord is a PII-bearing record yielded by a finding source before
// normalization.
type RawRecord struct {
	Source     string
	ArtifactID string
	Type       string // "email", "profile", "file", ...
	Content    string
}

// Finding is a discovered piece of personal data. Findings are immutable once
// collected.
type Finding struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	SubjectID     string    `json:"subject_id"`
	Source        string    `json:"source"`
	ArtifactID    string    `json:"artifact_id"`
	Kind          PIIKind   `json:"kind"`
	Value         string    `json:"-"`
	MaskedPreview string    `json:"masked_preview"`
	Start         int       `json:"start"`
	End           int       `json:"end"`
	Confidence    float64   `json:"confidence"`
	ThirdParty    bool      `json:"third_party"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValueRef locates the finding inside its source artifact.
func (f Finding) ValueRef() string {
	return fmt.Sprintf("%s/%s@%d:%d", f.Source, f.ArtifactID, f.Start, f.End)
}

// ArtifactKey identifies the artifact holding the finding.
func (f Finding) ArtifactKey() string {
	return f.Source + "/" + f.ArtifactID
}

// Artifact is the text of a source record that holds at least one finding.
// Finding offsets are rune offsets into Content. Content is personal data and
// is sealed at rest like finding values.
type Artifact struct {
	RunID      string
	Source     string
	ArtifactID string
	Content    string
}

// Key identifies the artifact within its run.
func (a Artifact) Key() string {
	return a.Source + "/" + a.ArtifactID
}
