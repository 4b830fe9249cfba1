package dsar

import "gdpr-guardian/internal/domain"

// Audit payloads. They reference findings by id and never carry PII values.

type createdPayload struct {
	SubjectID    string                  `json:"subject_id"`
	RequestTypes []domain.ProposalAction `json:"request_types"`
	PolicySource string                  `json:"policy_source,omitempty"`
	Artifact     string                  `json:"artifact,omitempty"`
}

type clarifiedPayload struct {
	Clarification domain.IdentityClarification `json:"clarification"`
	Collection    domain.CollectionStats       `json:"collection"`
}

type proposedPayload struct {
	Proposals  []domain.Proposal `json:"proposals"`
	Summarized bool              `json:"summarized"`
}

type gatePayload struct {
	Blocked []domain.GuardrailVerdict `json:"blocked"`
}

type recheckPayload struct {
	Trigger  string                    `json:"trigger"`
	Verdicts []domain.GuardrailVerdict `json:"verdicts"`
}

type decisionPayload struct {
	Selections         []domain.ProposalSelection `json:"selections"`
	Justification      string                     `json:"justification,omitempty"`
	Verdicts           []domain.GuardrailVerdict  `json:"verdicts"`
	RequiredRedactions []string                   `json:"required_redactions,omitempty"`
	RedactionsWaived   bool                       `json:"redactions_waived,omitempty"`
}

type finalizedPayload struct {
	Decision   domain.EventType           `json:"decision"`
	Selections []domain.ProposalSelection `json:"selections"`
	Erasure    *domain.ErasureRecord      `json:"erasure"`
}

type exportPayload struct {
	Attempt  int    `json:"attempt"`
	Location string `json:"location,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`
}

type abandonPayload struct {
	Reason        string                        `json:"reason,omitempty"`
	Clarification *domain.IdentityClarification `json:"clarification,omitempty"`
}
