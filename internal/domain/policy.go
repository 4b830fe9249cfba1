package domain

import "slices"

// PolicyConfig is the immutable rule set every component evaluates against.
// It is loaded once by the policy store and passed by value into runs so each
// run keeps the exact snapshot it was decided under.
type PolicyConfig struct {
	Identity   IdentityPolicy    `json:"identity" yaml:"identity"`
	Retention  RetentionPolicies `json:"retention_policies" yaml:"retention_policies"`
	Disclosure DisclosurePolicy  `json:"disclosure" yaml:"disclosure"`
	SLA        SLAPolicy         `json:"sla" yaml:"sla"`
	Redaction  RedactionPolicy   `json:"redaction" yaml:"redaction"`
}

// IdentityPolicy holds identity verification thresholds.
type IdentityPolicy struct {
	MinConfidenceForAutoApproval float64  `json:"min_confidence_for_auto_approval" yaml:"min_confidence_for_auto_approval"`
	StrongSignals                []string `json:"strong_signals,omitempty" yaml:"strong_signals"`
}

// RetentionPolicies are minimum retention windows, in days, that block erasure.
type RetentionPolicies struct {
	FinancialTransactionDays int `json:"financial_transaction_days" yaml:"financial_transaction_days"`
	ActiveServiceDays        int `json:"active_service_days" yaml:"active_service_days"`
}

// DisclosurePolicy lists the disclosure sections an export bundle must carry.
type DisclosurePolicy struct {
	RequireSections []string `json:"require_sections,omitempty" yaml:"require_sections"`
}

// RedactionPolicy lists PII kinds that must always be masked in a delivery.
// A decision carrying a justification may waive the requirement only when
// AllowOverrideWithJustification is set.
type RedactionPolicy struct {
	RequiredTypes                  []PIIKind `json:"required_types,omitempty" yaml:"required_types"`
	AllowOverrideWithJustification bool      `json:"allow_override_with_justification" yaml:"allow_override_with_justification"`
}

// Requires reports whether findings of kind must be redacted.
func (r RedactionPolicy) Requires(kind PIIKind) bool {
	return slices.Contains(r.RequiredTypes, kind)
}

// SLAPolicy bounds how long a request may stay open.
type SLAPolicy struct {
	AccessDays int `json:"access_days" yaml:"access_days"`
}

// MinConfidence is shorthand for the auto-approval threshold.
func (p PolicyConfig) MinConfidence() float64 {
	return p.Identity.MinConfidenceForAutoApproval
}

// Validate checks the policy invariants: confidence in (0,1] and
// non-negative day counts. A zero threshold is rejected because a missing
// artifact must always score below it.
func (p PolicyConfig) Validate() error {
	c := p.Identity.MinConfidenceForAutoApproval
	if c <= 0 || c > 1 {
		return ErrValidation("identity.min_confidence_for_auto_approval must be in (0,1], got %v", c)
	}
	if p.Retention.FinancialTransactionDays < 0 {
		return ErrValidation("retention_policies.financial_transaction_days must be non-negative")
	}
	if p.Retention.ActiveServiceDays < 0 {
		return ErrValidation("retention_policies.active_service_days must be non-negative")
	}
	if p.SLA.AccessDays < 0 {
		return ErrValidation("sla.access_days must be non-negative")
	}
	for _, k := range p.Redaction.RequiredTypes {
		if _, err := ParsePIIKind(string(k)); err != nil {
			return ErrValidation("redaction.required_types: %v", err)
		}
	}
	return nil
}
